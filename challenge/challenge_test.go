package challenge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/metrics"
	"github.com/quantumauth-io/quantumauth-go/retry"
)

func TestHTTPRequesterPostsParamsAndReturnsHeaders(t *testing.T) {
	// given
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/qa/authenticate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"headers":{"Authorization":"QuantumAuth abc","X-QuantumAuth-Challenge-ID":"c1"}}`))
	}))
	defer srv.Close()
	r := NewHTTPRequester(srv.URL + "///")

	// when
	proof, err := r.RequestChallenge(context.Background(), Params{Method: "POST", Path: "/qa/demo", BackendHost: "api.example.com"})

	// then
	require.NoError(t, err)
	assert.Equal(t, Proof{"Authorization": "QuantumAuth abc", "X-QuantumAuth-Challenge-ID": "c1"}, proof)
	assert.Equal(t, map[string]any{"method": "POST", "path": "/qa/demo", "backend_host": "api.example.com"}, got)
}

func TestHTTPRequesterMissingHeadersIsEmptyProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	proof, err := NewHTTPRequester(srv.URL).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.NotNil(t, proof)
}

func TestHTTPRequesterNon2xxSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("device not enrolled"))
	}))
	defer srv.Close()
	m := metrics.New(prometheus.NewRegistry())

	_, err := NewHTTPRequester(srv.URL, WithHTTPMetrics(m)).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.ErrorIs(t, err, ErrChallengeFailed)
	assert.Equal(t, "qa challenge failed: 403 device not enrolled", err.Error())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Status)
}

func TestHTTPRequesterRetriesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	cfg := retry.Bounded(2)
	cfg.InitialDelayBeforeRetrying = time.Millisecond

	_, err := NewHTTPRequester(url, WithRetry(cfg)).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed after max 2 retries")
}

func TestHTTPRequesterDefaultsToLocalClient(t *testing.T) {
	assert.Equal(t, "http://localhost:8090/api/qa/authenticate", NewHTTPRequester("").Endpoint())
}

func TestBridgeRequesterWithoutChannel(t *testing.T) {
	_, err := NewBridgeRequester(nil).RequestChallenge(context.Background(), Params{})

	require.ErrorIs(t, err, ErrNoBridgeContext)
}

func TestBridgeRequesterHolderNotDetectedDoesNotSendChallenge(t *testing.T) {
	// given
	var challenges atomic.Int32
	tr := bridge.NewMemoryTransport(func(_ context.Context, req bridge.Message) (bridge.Message, bool) {
		if action, _, _ := bridge.ParseRequest(req); action == bridge.ActionRequestChallenge {
			challenges.Add(1)
		}
		return bridge.Message{}, false
	})
	ch := bridge.NewChannel(tr, bridge.WithProbeTimeout(10*time.Millisecond))
	defer ch.Close()

	// when
	_, err := NewBridgeRequester(ch).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	// then
	require.ErrorIs(t, err, ErrHolderNotDetected)
	assert.Equal(t, int32(0), challenges.Load())
	assert.Equal(t, 1, tr.Posted())
}

func holderReplying(t *testing.T, challengeReply any, seen *json.RawMessage) *bridge.Channel {
	t.Helper()
	tr := bridge.NewMemoryTransport(func(_ context.Context, req bridge.Message) (bridge.Message, bool) {
		action, data, err := bridge.ParseRequest(req)
		require.NoError(t, err)
		payload := challengeReply
		if action == bridge.ActionPing {
			payload = map[string]any{"ok": true}
		} else if seen != nil {
			*seen = data
		}
		reply, err := bridge.Reply(req, payload)
		require.NoError(t, err)
		return reply, true
	})
	ch := bridge.NewChannel(tr)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestBridgeRequesterTopLevelProof(t *testing.T) {
	var seen json.RawMessage
	ch := holderReplying(t, map[string]any{"qaProof": map[string]string{"X-QA-Signature": "sig", "Authorization": "QuantumAuth t"}}, &seen)

	proof, err := NewBridgeRequester(ch).RequestChallenge(context.Background(),
		Params{Method: "POST", Path: "/secure/data", BackendHost: "api.example.com", AppID: "app-1"})

	require.NoError(t, err)
	assert.Equal(t, Proof{"X-QA-Signature": "sig", "Authorization": "QuantumAuth t"}, proof)
	assert.JSONEq(t, `{"method":"POST","path":"/secure/data","backendHost":"api.example.com","appId":"app-1"}`, string(seen))
}

func TestBridgeRequesterNestedProof(t *testing.T) {
	// the channel unwraps the outer data member; the proof sits one level deeper
	ch := holderReplying(t, map[string]any{"ok": true, "data": map[string]any{"data": map[string]any{"qaProof": map[string]string{"X-QA-Signature": "nested"}}}}, nil)

	proof, err := NewBridgeRequester(ch).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.NoError(t, err)
	assert.Equal(t, Proof{"X-QA-Signature": "nested"}, proof)
}

func TestBridgeRequesterNoProofIsEmpty(t *testing.T) {
	ch := holderReplying(t, map[string]any{"ok": true, "data": map[string]any{"something": "else"}}, nil)

	proof, err := NewBridgeRequester(ch).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.NoError(t, err)
	assert.Equal(t, Proof{}, proof)
}

func TestBridgeRequesterPropagatesHolderFailure(t *testing.T) {
	ch := holderReplying(t, map[string]any{"ok": false, "error": "user rejected"}, nil)

	_, err := NewBridgeRequester(ch).RequestChallenge(context.Background(), Params{Method: "GET", Path: "/"})

	require.ErrorIs(t, err, bridge.ErrHolderError)
	assert.Contains(t, err.Error(), "user rejected")
}

func TestNormalizeProofShapes(t *testing.T) {
	cases := []struct {
		raw   string
		shape proofShape
		proof Proof
	}{
		{`{"qaProof":{"a":"1"},"data":{"qaProof":{"b":"2"}}}`, shapeTopLevel, Proof{"a": "1"}},
		{`{"qaProof":null,"data":{"qaProof":{"b":"2"}}}`, shapeNested, Proof{"b": "2"}},
		{`{"data":{}}`, shapeNone, Proof{}},
		{`null`, shapeNone, Proof{}},
		{`"pong"`, shapeNone, Proof{}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			proof, shape, err := normalizeProof(json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.shape, shape, shape.String())
			assert.Equal(t, tc.proof, proof)
		})
	}

	_, _, err := normalizeProof(json.RawMessage(`{"qaProof":{"a":1}}`))
	require.ErrorIs(t, err, ErrChallengeFailed)
}
