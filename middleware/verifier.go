package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/qa/headers"
	"github.com/quantumauth-io/quantumauth-go/qa/urls"
)

const DefaultTimeout = 3 * time.Second

// VerificationPayload is posted to the auth service for every incoming request.
type VerificationPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	// Encrypted is the raw incoming body, typically an envelope the auth service decrypts.
	Encrypted json.RawMessage `json:"encrypted,omitempty"`
}

type Verdict struct {
	Authenticated bool
	UserID        string
	DeviceID      string
	Payload       json.RawMessage
	Error         string
	// Unparsable is set when a 2xx answer carried no usable JSON.
	Unparsable bool
}

type verdictResponse struct {
	Authenticated bool            `json:"authenticated"`
	UserIDSnake   string          `json:"user_id"`
	UserID        string          `json:"userId"`
	DeviceIDSnake string          `json:"device_id"`
	DeviceID      string          `json:"deviceId"`
	Payload       json.RawMessage `json:"payload"`
	Data          json.RawMessage `json:"data"`
	Error         json.RawMessage `json:"error"`
}

// Verifier calls the auth service verification endpoint. It never returns an error: every
// failure becomes a negative Verdict carrying a message.
type Verifier struct {
	client     *resty.Client
	endpoint   string
	backendKey string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewVerifier(serverURL, verifyPath, backendKey string, timeout time.Duration, client *resty.Client, logger *zap.Logger) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = resty.New()
	}
	return &Verifier{
		client:     client,
		endpoint:   urls.Join(urls.TrimTrailingSlashes(serverURL), verifyPath),
		backendKey: backendKey,
		timeout:    timeout,
		logger:     log.Named(logger, "verifier"),
	}
}

func (v *Verifier) Endpoint() string {
	return v.endpoint
}

func (v *Verifier) Verify(ctx context.Context, payload VerificationPayload) Verdict {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req := v.client.R().
		SetContext(ctx).
		SetHeader(headers.HeaderContentType.String(), headers.ContentTypeJSON).
		SetBody(payload)
	if v.backendKey != "" {
		req.SetHeader(headers.HeaderQuantumAuthBackendKey.String(), v.backendKey)
	}

	resp, err := req.Post(v.endpoint)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Verdict{Error: fmt.Sprintf("QuantumAuth verification aborted: timeout after %s", v.timeout)}
		}
		v.logger.Warn("verification request failed", zap.Error(err))
		return Verdict{Error: fmt.Sprintf("QuantumAuth verification request failed: %v", err)}
	}

	var parsed verdictResponse
	body := bytes.TrimSpace(resp.Body())
	parseErr := errors.New("empty body")
	if len(body) > 0 {
		parseErr = json.Unmarshal(body, &parsed)
	}

	if !resp.IsSuccess() {
		msg := ""
		if parseErr == nil {
			msg = errorText(parsed.Error)
		}
		if msg == "" {
			msg = fmt.Sprintf("QA server verify failed: HTTP %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode()))
		}
		return Verdict{Error: msg}
	}

	if parseErr != nil {
		v.logger.Warn("verification response is not JSON", zap.Int("status", resp.StatusCode()), zap.Error(parseErr))
		return Verdict{Unparsable: true}
	}

	out := Verdict{
		Authenticated: parsed.Authenticated,
		UserID:        firstNonEmpty(parsed.UserIDSnake, parsed.UserID),
		DeviceID:      firstNonEmpty(parsed.DeviceIDSnake, parsed.DeviceID),
		Payload:       parsed.Payload,
		Error:         errorText(parsed.Error),
	}
	if isNull(out.Payload) {
		out.Payload = parsed.Data
	}
	if isNull(out.Payload) {
		out.Payload = nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// errorText accepts a string error field and falls back to the raw JSON for anything else.
func errorText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
