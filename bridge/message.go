package bridge

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type MessageType string

// Wire values understood by the QuantumAuth credential holder.
const (
	TypeRequest  MessageType = "QUANTUMAUTH_REQUEST"
	TypeResponse MessageType = "QUANTUMAUTH_RESPONSE"
)

const (
	ActionPing             = "ping"
	ActionRequestChallenge = "request_challenge"
)

// Message is the envelope exchanged with the credential holder in both directions.
type Message struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Request is the payload of an outbound REQUEST message.
type Request struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

type incomingRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ParseRequest decodes the action and raw data of an inbound REQUEST. Used by holder implementations.
func ParseRequest(msg Message) (string, json.RawMessage, error) {
	if msg.Type != TypeRequest {
		return "", nil, errors.Errorf("bridge: unexpected message type %q", msg.Type)
	}
	var req incomingRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return "", nil, errors.Wrap(err, "bridge: decode request payload")
	}
	return req.Action, req.Data, nil
}

// Reply builds a RESPONSE to req carrying payload.
func Reply(req Message, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrap(err, "bridge: encode response payload")
	}
	return Message{Type: TypeResponse, CorrelationID: req.CorrelationID, Payload: raw}, nil
}

// ReplyError builds a RESPONSE to req carrying a top-level error.
func ReplyError(req Message, msg string) Message {
	return Message{Type: TypeResponse, CorrelationID: req.CorrelationID, Error: msg}
}

// evaluate applies the layered success check to a matched response: a top-level error
// fails, then an "ok": false anywhere inside the payload fails, otherwise it succeeds.
// On success the payload's "data" member is returned when present, else the whole payload.
func evaluate(msg Message) (json.RawMessage, error) {
	if msg.Error != "" {
		return nil, errors.Wrap(ErrHolderError, msg.Error)
	}
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		return nil, errors.Wrap(err, "bridge: decode response payload")
	}
	if failed, reason := findNotOK(decoded); failed {
		if reason == "" {
			return nil, ErrHolderError
		}
		return nil, errors.Wrap(ErrHolderError, reason)
	}

	var members map[string]json.RawMessage
	if json.Unmarshal(msg.Payload, &members) == nil {
		if data, ok := members["data"]; ok {
			return data, nil
		}
	}
	return msg.Payload, nil
}

// findNotOK walks v breadth-first by level and reports the first object whose "ok" is false,
// together with that object's "error" string if it has one.
func findNotOK(v any) (bool, string) {
	level := []any{v}
	for len(level) > 0 {
		var next []any
		for _, node := range level {
			switch n := node.(type) {
			case map[string]any:
				if ok, isBool := n["ok"].(bool); isBool && !ok {
					reason, _ := n["error"].(string)
					return true, reason
				}
				for _, child := range n {
					next = append(next, child)
				}
			case []any:
				next = append(next, n...)
			}
		}
		level = next
	}
	return false, ""
}
