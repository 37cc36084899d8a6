// Package middleware gates net/http handlers on a QuantumAuth verification.
//
// For each request the middleware reads the JSON body, forwards the method, path, allow-listed
// headers and the raw body to the auth service, and only calls the next handler when the
// service authenticates a user. The verified identity is stored in the request context and a
// decrypted payload replaces the request body.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/audit"
	"github.com/quantumauth-io/quantumauth-go/config"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/metrics"
	"github.com/quantumauth-io/quantumauth-go/qa/headers"
	"github.com/quantumauth-io/quantumauth-go/qa/requests"
	"github.com/quantumauth-io/quantumauth-go/replay"
)

const (
	DefaultMaxBodyBytes int64 = 1 << 20

	msgMissingBody    = "Missing request body for QuantumAuth"
	msgInvalidBody    = "Invalid JSON body for QuantumAuth"
	msgBodyTooLarge   = "Request body too large for QuantumAuth"
	msgAuthFailed     = "QuantumAuth authentication failed"
	msgReplayed       = "QuantumAuth challenge already used"
	msgBadChallengeID = "QuantumAuth challenge id rejected"
	msgErrorPrefix    = "QuantumAuth middleware error: "
)

type Config struct {
	// ServerURL is the auth service base URL. Empty resolves it from QA_ENV and
	// QUANTUMAUTH_SERVER_URL.
	ServerURL  string
	VerifyPath string
	// BackendAPIKey is sent as X-QuantumAuth-Backend-Key when set.
	BackendAPIKey string
	Timeout       time.Duration
	HTTPClient    *resty.Client
	MaxBodyBytes  int64
	Logger        *zap.Logger
}

type Middleware struct {
	verifier     *Verifier
	maxBodyBytes int64
	guard        replay.Guard
	recorder     audit.Recorder
	metrics      *metrics.Metrics
	bindCanon    bool
	logger       *zap.Logger
}

type Option func(*Middleware)

// WithReplayGuard rejects a request whose challenge id was already claimed.
func WithReplayGuard(g replay.Guard) Option {
	return func(m *Middleware) { m.guard = g }
}

func WithAuditRecorder(r audit.Recorder) Option {
	return func(m *Middleware) { m.recorder = r }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mx }
}

// WithCanonicalBinding checks X-QuantumAuth-Canonical-B64, when present, against the
// incoming method, path and host before calling the auth service.
func WithCanonicalBinding(enabled bool) Option {
	return func(m *Middleware) { m.bindCanon = enabled }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Middleware) { m.logger = l }
}

func New(cfg Config, opts ...Option) (*Middleware, error) {
	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		resolved, _, err := config.ResolveServerURL()
		if err != nil {
			return nil, errors.Wrap(err, "quantumauth middleware")
		}
		serverURL = resolved
	}
	verifyPath := cfg.VerifyPath
	if verifyPath == "" {
		verifyPath = config.DefaultVerificationPath
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	m := &Middleware{maxBodyBytes: maxBody, logger: cfg.Logger}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.Named(m.logger, "middleware")
	m.verifier = NewVerifier(serverURL, verifyPath, cfg.BackendAPIKey, cfg.Timeout, cfg.HTTPClient, m.logger)
	return m, nil
}

func (m *Middleware) Verifier() *Verifier {
	return m.verifier
}

// rejection is a terminal answer produced before the next handler runs.
type rejection struct {
	status  int
	outcome string
	message string
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := audit.Record{
			Time:        start,
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			ChallengeID: r.Header.Get(headers.HeaderQuantumAuthChallengeID.String()),
		}

		authed, rej := m.authenticate(w, r)
		if rej != nil {
			rec.Outcome, rec.Status, rec.Error = rej.outcome, rej.status, rej.message
			m.finish(r.Context(), rec, start)
			writeError(w, rej.status, rej.message)
			return
		}

		id, _ := FromContext(authed.Context())
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, authed)

		rec.Outcome, rec.Status = metrics.OutcomeAuthenticated, sw.statusCode()
		rec.UserID, rec.DeviceID = id.UserID, id.DeviceID
		m.finish(r.Context(), rec, start)
	})
}

// authenticate runs every stage up to the verdict. Panics are turned into a 500 rejection.
func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) (out *http.Request, rej *rejection) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("panic while authenticating request", zap.Any("panic", p), zap.String("path", r.URL.Path))
			out, rej = nil, &rejection{http.StatusInternalServerError, metrics.OutcomeErrored, msgErrorPrefix + fmt.Sprint(p)}
		}
	}()

	body, rej := m.readBody(w, r)
	if rej != nil {
		return nil, rej
	}

	if m.bindCanon {
		if rej := checkCanonical(r); rej != nil {
			return nil, rej
		}
	}

	if m.guard != nil {
		if rej := m.claimChallenge(r); rej != nil {
			return nil, rej
		}
	}

	payload := VerificationPayload{
		Method:    r.Method,
		Path:      r.URL.RequestURI(),
		Headers:   headers.FilterAuthHeaders(r.Header),
		Encrypted: body,
	}
	verifyStart := time.Now()
	verdict := m.verifier.Verify(r.Context(), payload)
	m.metrics.ObserveVerifyDuration(time.Since(verifyStart))

	if !verdict.Authenticated || verdict.UserID == "" {
		outcome := metrics.OutcomeRejected
		if verdict.Unparsable {
			outcome = metrics.OutcomeErrored
		}
		msg := verdict.Error
		if msg == "" {
			msg = msgAuthFailed
		}
		return nil, &rejection{http.StatusUnauthorized, outcome, msg}
	}

	id := Identity{UserID: verdict.UserID, DeviceID: verdict.DeviceID, Payload: verdict.Payload}
	out = r.WithContext(WithIdentity(r.Context(), id))
	effective := body
	if verdict.Payload != nil {
		effective = verdict.Payload
	}
	out.Body = io.NopCloser(bytes.NewReader(effective))
	out.ContentLength = int64(len(effective))
	out.Header = r.Header.Clone()
	out.Header.Set(headers.HeaderContentType.String(), headers.ContentTypeJSON)
	out.Header.Set("Content-Length", strconv.Itoa(len(effective)))
	return out, nil
}

// readBody returns the JSON body. Body-less methods with no body read as {}.
func (m *Middleware) readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, *rejection) {
	var raw []byte
	if r.Body != nil {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, &rejection{http.StatusRequestEntityTooLarge, metrics.OutcomeInvalidBody, msgBodyTooLarge}
			}
			return nil, &rejection{http.StatusInternalServerError, metrics.OutcomeErrored, msgErrorPrefix + "read body: " + err.Error()}
		}
		raw = bytes.TrimSpace(b)
	}

	if len(raw) == 0 {
		if allowsEmptyBody(r.Method) {
			return json.RawMessage("{}"), nil
		}
		return nil, &rejection{http.StatusBadRequest, metrics.OutcomeMissingBody, msgMissingBody}
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, &rejection{http.StatusBadRequest, metrics.OutcomeMissingBody, msgMissingBody}
	}
	if !json.Valid(raw) {
		return nil, &rejection{http.StatusBadRequest, metrics.OutcomeInvalidBody, msgInvalidBody}
	}
	return json.RawMessage(raw), nil
}

func allowsEmptyBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func checkCanonical(r *http.Request) *rejection {
	encoded := r.Header.Get(headers.HeaderQuantumAuthCanonicalB64.String())
	if encoded == "" {
		return nil
	}
	parsed, err := requests.DecodeCanonicalB64(encoded)
	if err == nil {
		err = parsed.Matches(r.Method, r.URL.RequestURI(), r.Host)
	}
	if err != nil {
		return &rejection{http.StatusUnauthorized, metrics.OutcomeMismatch, "QuantumAuth canonical request rejected: " + err.Error()}
	}
	return nil
}

func (m *Middleware) claimChallenge(r *http.Request) *rejection {
	id := r.Header.Get(headers.HeaderQuantumAuthChallengeID.String())
	if id == "" {
		return nil
	}
	fresh, err := m.guard.Claim(r.Context(), id)
	switch {
	case errors.Is(err, replay.ErrInvalidID):
		return &rejection{http.StatusUnauthorized, metrics.OutcomeRejected, msgBadChallengeID}
	case err != nil:
		return &rejection{http.StatusInternalServerError, metrics.OutcomeErrored, msgErrorPrefix + err.Error()}
	case !fresh:
		return &rejection{http.StatusUnauthorized, metrics.OutcomeReplayed, msgReplayed}
	}
	return nil
}

func (m *Middleware) finish(ctx context.Context, rec audit.Record, start time.Time) {
	rec.Duration = time.Since(start)
	m.metrics.ObserveVerification(rec.Outcome)
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("failed to record audit entry", zap.String("outcome", rec.Outcome), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set(headers.HeaderContentType.String(), headers.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
