package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handler answers a REQUEST. Returning ok=false means the holder never replies.
type Handler func(ctx context.Context, req Message) (reply Message, ok bool)

// MemoryTransport runs a credential holder in-process. Each posted request is handled on its
// own goroutine and the reply is published to subscribers, mimicking a cross-context post.
type MemoryTransport struct {
	handler Handler

	mu     sync.RWMutex
	subs   map[int]func(Message)
	nextID int

	posted atomic.Int64
}

func NewMemoryTransport(h Handler) *MemoryTransport {
	return &MemoryTransport{handler: h, subs: make(map[int]func(Message))}
}

func (t *MemoryTransport) Post(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.posted.Add(1)
	if t.handler == nil {
		return nil
	}
	go func() {
		// the holder outlives the caller's deadline, like a real extension
		if reply, ok := t.handler(context.WithoutCancel(ctx), msg); ok {
			t.Publish(reply)
		}
	}()
	return nil
}

func (t *MemoryTransport) Subscribe(fn func(Message)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Publish delivers msg to every subscriber as if the holder had sent it.
func (t *MemoryTransport) Publish(msg Message) {
	t.mu.RLock()
	subs := make([]func(Message), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// Posted returns how many messages were posted.
func (t *MemoryTransport) Posted() int {
	return int(t.posted.Load())
}

// Subscribers returns the number of active subscriptions.
func (t *MemoryTransport) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
