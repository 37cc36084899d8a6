package challenge

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/metrics"
)

const strategyBridge = "bridge"

// BridgeRequester asks a credential holder for a proof through a bridge channel.
type BridgeRequester struct {
	channel *bridge.Channel
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type BridgeOption func(*BridgeRequester)

func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(r *BridgeRequester) { r.logger = l }
}

func WithBridgeMetrics(m *metrics.Metrics) BridgeOption {
	return func(r *BridgeRequester) { r.metrics = m }
}

func NewBridgeRequester(ch *bridge.Channel, opts ...BridgeOption) *BridgeRequester {
	r := &BridgeRequester{channel: ch}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.Named(r.logger, "challenge")
	return r
}

// RequestChallenge probes the holder first and fails with ErrHolderNotDetected without
// sending the challenge request when the probe fails.
func (r *BridgeRequester) RequestChallenge(ctx context.Context, p Params) (Proof, error) {
	if r == nil || r.channel == nil {
		return nil, ErrNoBridgeContext
	}
	if !r.channel.ProbeAvailability(ctx) {
		r.metrics.ObserveChallengeError(strategyBridge)
		return nil, ErrHolderNotDetected
	}

	data, err := r.channel.Send(ctx, bridge.Request{Action: bridge.ActionRequestChallenge, Data: p})
	if err != nil {
		r.metrics.ObserveChallengeError(strategyBridge)
		return nil, err
	}

	proof, shape, err := normalizeProof(data)
	if err != nil {
		r.metrics.ObserveChallengeError(strategyBridge)
		return nil, err
	}
	if shape == shapeNone {
		r.logger.Debug("credential holder returned no proof", zap.String("method", p.Method), zap.String("path", p.Path))
	}
	return proof, nil
}

// proofShape tags the response layouts a credential holder is known to produce.
type proofShape int

const (
	shapeNone     proofShape = iota // neither layout; yields an empty proof
	shapeTopLevel                   // {"qaProof": {...}}
	shapeNested                     // {"data": {"qaProof": {...}}}
)

func (s proofShape) String() string {
	switch s {
	case shapeTopLevel:
		return "qaProof"
	case shapeNested:
		return "data.qaProof"
	default:
		return "none"
	}
}

type proofEnvelope struct {
	QAProof map[string]string `json:"qaProof"`
	Data    *struct {
		QAProof map[string]string `json:"qaProof"`
	} `json:"data"`
}

// normalizeProof converts a holder response into a Proof. A top-level qaProof wins over a nested one.
func normalizeProof(raw json.RawMessage) (Proof, proofShape, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Proof{}, shapeNone, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		// a non-object response carries no proof
		return Proof{}, shapeNone, nil
	}

	var env proofEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, shapeNone, errors.Wrapf(ErrChallengeFailed, "malformed proof: %v", err)
	}
	switch {
	case env.QAProof != nil:
		return Proof(env.QAProof), shapeTopLevel, nil
	case env.Data != nil && env.Data.QAProof != nil:
		return Proof(env.Data.QAProof), shapeNested, nil
	default:
		return Proof{}, shapeNone, nil
	}
}
