package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyWith(payload any) Handler {
	return func(_ context.Context, req Message) (Message, bool) {
		reply, err := Reply(req, payload)
		if err != nil {
			return Message{}, false
		}
		return reply, true
	}
}

func silent(context.Context, Message) (Message, bool) { return Message{}, false }

func TestSendReturnsData(t *testing.T) {
	// given
	tr := NewMemoryTransport(replyWith(map[string]any{"ok": true, "data": map[string]string{"message": "pong"}}))
	ch := NewChannel(tr)
	defer ch.Close()

	// when
	data, err := ch.Send(context.Background(), Request{Action: ActionPing})

	// then
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"pong"}`, string(data))
	assert.Equal(t, 0, ch.Pending())
}

func TestSendWithoutDataReturnsWholePayload(t *testing.T) {
	tr := NewMemoryTransport(replyWith(map[string]any{"qaProof": map[string]string{"X-QA-Signature": "s"}}))
	ch := NewChannel(tr)
	defer ch.Close()

	data, err := ch.Send(context.Background(), Request{Action: ActionRequestChallenge})

	require.NoError(t, err)
	assert.JSONEq(t, `{"qaProof":{"X-QA-Signature":"s"}}`, string(data))
}

func TestSendLayeredFailureDetection(t *testing.T) {
	cases := map[string]Handler{
		"top-level error": func(_ context.Context, req Message) (Message, bool) {
			return ReplyError(req, "user denied"), true
		},
		"payload ok false": replyWith(map[string]any{"ok": false, "error": "user denied"}),
		"nested ok false":  replyWith(map[string]any{"data": map[string]any{"result": map[string]any{"ok": false, "error": "user denied"}}}),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			ch := NewChannel(NewMemoryTransport(h))
			defer ch.Close()

			_, err := ch.Send(context.Background(), Request{Action: ActionRequestChallenge})

			require.ErrorIs(t, err, ErrHolderError)
			assert.Contains(t, err.Error(), "user denied")
		})
	}
}

func TestSendOkFalseWithoutReason(t *testing.T) {
	ch := NewChannel(NewMemoryTransport(replyWith(map[string]any{"ok": false})))
	defer ch.Close()

	_, err := ch.Send(context.Background(), Request{Action: ActionPing})

	require.ErrorIs(t, err, ErrHolderError)
	assert.Equal(t, "QuantumAuth extension error", err.Error())
}

func TestSendTimesOutAndReleasesPending(t *testing.T) {
	ch := NewChannel(NewMemoryTransport(silent))
	defer ch.Close()

	start := time.Now()
	_, err := ch.SendWithTimeout(context.Background(), Request{Action: ActionRequestChallenge}, 10*time.Millisecond)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "aborted")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, ch.Pending())
}

func TestSendHonoursCallerCancellation(t *testing.T) {
	ch := NewChannel(NewMemoryTransport(silent))
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := ch.Send(ctx, Request{Action: ActionPing})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ch.Pending())
}

func TestDeliverIgnoresUnmatchedResponses(t *testing.T) {
	tr := NewMemoryTransport(silent)
	ch := NewChannel(tr)
	defer ch.Close()

	assert.False(t, ch.Deliver(Message{Type: TypeResponse, CorrelationID: "nobody"}))
	assert.False(t, ch.Deliver(Message{Type: TypeRequest, CorrelationID: "x"}))
	assert.False(t, ch.Deliver(Message{Type: TypeResponse}))
}

func TestResponseMatchesAtMostOneRequest(t *testing.T) {
	var posted sync.Map
	tr := NewMemoryTransport(func(_ context.Context, req Message) (Message, bool) {
		posted.Store(req.CorrelationID, req)
		return Message{}, false
	})
	ids := []string{"a", "b"}
	var n atomic.Int32
	ch := NewChannel(tr, WithIDGenerator(func() string { return ids[n.Add(1)-1] }))
	defer ch.Close()

	results := make(chan error, 2)
	for range ids {
		go func() {
			_, err := ch.SendWithTimeout(context.Background(), Request{Action: ActionPing}, 200*time.Millisecond)
			results <- err
		}()
	}
	require.Eventually(t, func() bool { return ch.Pending() == 2 }, time.Second, time.Millisecond)

	reply := Message{Type: TypeResponse, CorrelationID: "a", Payload: json.RawMessage(`{"ok":true}`)}
	assert.True(t, ch.Deliver(reply))
	assert.False(t, ch.Deliver(reply), "second delivery of the same correlation id is ignored")

	errs := []error{<-results, <-results}
	var timeouts, successes int
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, ErrTimeout)
			timeouts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, timeouts)
}

func TestConcurrentSendsAreCorrelated(t *testing.T) {
	tr := NewMemoryTransport(func(_ context.Context, req Message) (Message, bool) {
		_, data, err := ParseRequest(req)
		if err != nil {
			return ReplyError(req, err.Error()), true
		}
		reply, _ := Reply(req, map[string]json.RawMessage{"data": data})
		return reply, true
	})
	ch := NewChannel(tr)
	defer ch.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := ch.Send(context.Background(), Request{Action: "echo", Data: map[string]int{"n": i}})
			assert.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(data))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, ch.Pending())
}

func TestProbeFailureIsNotCached(t *testing.T) {
	var installed atomic.Bool
	tr := NewMemoryTransport(func(ctx context.Context, req Message) (Message, bool) {
		if !installed.Load() {
			return Message{}, false
		}
		return replyWith(map[string]any{"ok": true})(ctx, req)
	})
	ch := NewChannel(tr, WithProbeTimeout(10*time.Millisecond))
	defer ch.Close()

	assert.False(t, ch.ProbeAvailability(context.Background()))
	assert.False(t, ch.ProbeAvailability(context.Background()))
	assert.Equal(t, 2, tr.Posted())

	installed.Store(true)
	assert.True(t, ch.ProbeAvailability(context.Background()))
	assert.Equal(t, 3, tr.Posted())
}

func TestProbeSuccessIsCached(t *testing.T) {
	tr := NewMemoryTransport(replyWith(map[string]any{"ok": true, "data": map[string]string{"message": "pong"}}))
	ch := NewChannel(tr)
	defer ch.Close()

	assert.True(t, ch.ProbeAvailability(context.Background()))
	assert.True(t, ch.ProbeAvailability(context.Background()))
	assert.True(t, ch.ProbeAvailability(context.Background()))

	assert.Equal(t, 1, tr.Posted(), "cached probes must not send a message")
}

func TestProbeCacheIsPerChannel(t *testing.T) {
	tr := NewMemoryTransport(replyWith(map[string]any{"ok": true}))
	first := NewChannel(tr)
	defer first.Close()
	second := NewChannel(tr)
	defer second.Close()

	require.True(t, first.ProbeAvailability(context.Background()))
	require.True(t, second.ProbeAvailability(context.Background()))
	assert.Equal(t, 2, tr.Posted())
}

func TestCloseFailsInFlightAndUnsubscribes(t *testing.T) {
	tr := NewMemoryTransport(silent)
	ch := NewChannel(tr)
	require.Equal(t, 1, tr.Subscribers())

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Send(context.Background(), Request{Action: ActionPing})
		errc <- err
	}()
	require.Eventually(t, func() bool { return ch.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ch.Close())

	require.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, 0, tr.Subscribers())

	_, err := ch.Send(context.Background(), Request{Action: ActionPing})
	require.ErrorIs(t, err, ErrClosed)
}

func TestParseRequest(t *testing.T) {
	msg := Message{Type: TypeRequest, CorrelationID: "c", Payload: json.RawMessage(`{"action":"request_challenge","data":{"path":"/x"}}`)}

	action, data, err := ParseRequest(msg)

	require.NoError(t, err)
	assert.Equal(t, ActionRequestChallenge, action)
	assert.JSONEq(t, `{"path":"/x"}`, string(data))

	_, _, err = ParseRequest(Message{Type: TypeResponse})
	require.Error(t, err)
}
