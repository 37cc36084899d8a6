// Package bridge is the request/response broker between a client and a credential holder
// that is reachable only by asynchronous message passing.
//
// Every Send registers a pending entry keyed by a fresh correlation ID, posts a REQUEST
// through the Transport and waits for the matching RESPONSE, the timeout, or ctx. The entry
// is removed on every exit path. Responses with an unknown correlation ID are dropped.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/metrics"
	qacrypto "github.com/quantumauth-io/quantumauth-go/qa/crypto"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultProbeTimeout = time.Second
)

var (
	ErrTimeout     = errors.New("QuantumAuth extension timeout")
	ErrHolderError = errors.New("QuantumAuth extension error")
	ErrClosed      = errors.New("bridge: channel closed")
)

// Transport carries messages to and from the credential holder.
type Transport interface {
	// Post delivers msg to the holder. It must return once ctx is done.
	Post(ctx context.Context, msg Message) error
	// Subscribe registers fn for every inbound message until unsubscribe is called.
	Subscribe(fn func(Message)) (unsubscribe func())
}

type Channel struct {
	transport    Transport
	timeout      time.Duration
	probeTimeout time.Duration
	newID        func() string
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu          sync.Mutex
	pending     map[string]chan Message
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()

	// available only ever moves from false to true.
	available atomic.Bool
}

type Option func(*Channel)

func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithIDGenerator overrides correlation ID generation. IDs must be unique among in-flight requests.
func WithIDGenerator(fn func() string) Option {
	return func(c *Channel) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewChannel subscribes to t and returns a ready channel. Call Close to unsubscribe.
func NewChannel(t Transport, opts ...Option) *Channel {
	c := &Channel{
		transport:    t,
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
		newID:        newCorrelationID,
		pending:      make(map[string]chan Message),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.Named(c.logger, "bridge")
	c.unsubscribe = t.Subscribe(func(msg Message) { c.Deliver(msg) })
	return c
}

// Send posts req with the default timeout and returns the successful response data.
func (c *Channel) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.SendWithTimeout(ctx, req, c.timeout)
}

func (c *Channel) SendWithTimeout(ctx context.Context, req Request, timeout time.Duration) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: encode request")
	}

	id, reply, err := c.register()
	if err != nil {
		return nil, err
	}
	defer c.release(id)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug("sending request to credential holder",
		zap.String("action", req.Action), zap.String("correlationId", id))

	err = c.transport.Post(ctx, Message{Type: TypeRequest, CorrelationID: id, Payload: payload})
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.ctxFailure(ctx, req.Action, timeout)
		}
		c.metrics.ObserveBridgeRequest(req.Action, "transport_error")
		return nil, errors.Wrap(err, "bridge: post request")
	}

	select {
	case msg := <-reply:
		data, err := evaluate(msg)
		if err != nil {
			c.metrics.ObserveBridgeRequest(req.Action, "holder_error")
			return nil, err
		}
		c.metrics.ObserveBridgeRequest(req.Action, "ok")
		return data, nil
	case <-ctx.Done():
		return nil, c.ctxFailure(ctx, req.Action, timeout)
	case <-c.done:
		c.metrics.ObserveBridgeRequest(req.Action, "closed")
		return nil, ErrClosed
	}
}

func (c *Channel) ctxFailure(ctx context.Context, action string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.metrics.ObserveBridgeRequest(action, "timeout")
		return errors.Wrapf(ErrTimeout, "bridge: %s aborted after %s", action, timeout)
	}
	c.metrics.ObserveBridgeRequest(action, "cancelled")
	return errors.Wrapf(ctx.Err(), "bridge: %s aborted", action)
}

// Deliver routes an inbound message to its pending request. It reports whether the message
// matched; non-RESPONSE or unknown correlation IDs are ignored.
func (c *Channel) Deliver(msg Message) bool {
	if msg.Type != TypeResponse || msg.CorrelationID == "" {
		return false
	}

	c.mu.Lock()
	reply, ok := c.pending[msg.CorrelationID]
	if ok {
		delete(c.pending, msg.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping unmatched response", zap.String("correlationId", msg.CorrelationID))
		return false
	}
	reply <- msg
	return true
}

// ProbeAvailability pings the credential holder. A positive answer is cached for the life of
// the channel; a negative one is not, so later probes try again.
func (c *Channel) ProbeAvailability(ctx context.Context) bool {
	if c.available.Load() {
		c.metrics.ObserveProbe("cached")
		return true
	}
	if _, err := c.SendWithTimeout(ctx, Request{Action: ActionPing}, c.probeTimeout); err != nil {
		c.logger.Debug("credential holder not available", zap.Error(err))
		c.metrics.ObserveProbe("unavailable")
		return false
	}
	c.available.Store(true)
	c.metrics.ObserveProbe("available")
	return true
}

// Pending returns the number of in-flight requests.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close unsubscribes from the transport and fails every in-flight request with ErrClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
	})
	return nil
}

func (c *Channel) register() (string, chan Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return "", nil, ErrClosed
	default:
	}

	id := c.newID()
	if _, dup := c.pending[id]; dup {
		return "", nil, errors.Errorf("bridge: correlation id %q already in flight", id)
	}
	reply := make(chan Message, 1)
	c.pending[id] = reply
	return id, reply, nil
}

func (c *Channel) release(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func newCorrelationID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	suffix, err := qacrypto.RandomBase64(8)
	if err != nil {
		suffix = strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return fmt.Sprintf("qa-%d-%s", time.Now().UnixMilli(), suffix)
}
