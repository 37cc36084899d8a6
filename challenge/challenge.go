// Package challenge obtains single-request proofs for outgoing calls, either from a local
// QuantumAuth client over HTTP or from a credential holder through a bridge channel.
package challenge

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoBridgeContext   = errors.New("QuantumAuth: requestChallenge requires a credential holder channel")
	ErrHolderNotDetected = errors.New("QuantumAuth browser extension not detected. Please install the QuantumAuth extension to use protected requests.")
	ErrChallengeFailed   = errors.New("qa challenge failed")
)

// Params identify the request a proof is issued for.
type Params struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	BackendHost string `json:"backendHost"`
	AppID       string `json:"appId,omitempty"`
}

// Proof is a set of header name/value pairs authorizing exactly one request.
type Proof map[string]string

type Requester interface {
	RequestChallenge(ctx context.Context, p Params) (Proof, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, p Params) (Proof, error)

func (f RequesterFunc) RequestChallenge(ctx context.Context, p Params) (Proof, error) {
	return f(ctx, p)
}

// StatusError is returned when the challenge endpoint answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qa challenge failed: %d %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrChallengeFailed
}
