package challenge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/config"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/metrics"
	"github.com/quantumauth-io/quantumauth-go/qa/headers"
	"github.com/quantumauth-io/quantumauth-go/qa/urls"
	"github.com/quantumauth-io/quantumauth-go/retry"
)

const strategyHTTP = "http"

type httpChallengeRequest struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	BackendHost string `json:"backend_host"`
}

type httpChallengeResponse struct {
	Headers map[string]string `json:"headers"`
}

// HTTPRequester asks a locally running QuantumAuth client for a proof.
type HTTPRequester struct {
	client      *resty.Client
	endpoint    string
	retryConfig *retry.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

type HTTPOption func(*HTTPRequester)

// WithRetry retries transport failures (never non-2xx answers) with cfg.
func WithRetry(cfg *retry.Config) HTTPOption {
	return func(r *HTTPRequester) { r.retryConfig = cfg }
}

func WithRestyClient(c *resty.Client) HTTPOption {
	return func(r *HTTPRequester) {
		if c != nil {
			r.client = c
		}
	}
}

func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(r *HTTPRequester) { r.logger = l }
}

func WithHTTPMetrics(m *metrics.Metrics) HTTPOption {
	return func(r *HTTPRequester) { r.metrics = m }
}

// NewHTTPRequester targets baseURL + /api/qa/authenticate. An empty baseURL means the
// default local client at http://localhost:8090.
func NewHTTPRequester(baseURL string, opts ...HTTPOption) *HTTPRequester {
	baseURL = urls.TrimTrailingSlashes(strings.TrimSpace(baseURL))
	if baseURL == "" {
		baseURL = config.DefaultClientURL
	}
	r := &HTTPRequester{
		client:   resty.New(),
		endpoint: urls.Join(baseURL, config.DefaultChallengePath),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.Named(r.logger, "challenge")
	return r
}

func (r *HTTPRequester) Endpoint() string {
	return r.endpoint
}

func (r *HTTPRequester) RequestChallenge(ctx context.Context, p Params) (Proof, error) {
	body := httpChallengeRequest{Method: p.Method, Path: p.Path, BackendHost: p.BackendHost}

	post := func(ctx context.Context) (*resty.Response, error) {
		return r.client.R().
			SetContext(ctx).
			SetHeader(headers.HeaderContentType.String(), headers.ContentTypeJSON).
			SetBody(body).
			Post(r.endpoint)
	}

	var (
		resp *resty.Response
		err  error
	)
	if r.retryConfig != nil {
		resp, err = retry.Do(ctx, r.retryConfig, post, nil, "request challenge from "+r.endpoint)
	} else {
		resp, err = post(ctx)
	}
	if err != nil {
		r.metrics.ObserveChallengeError(strategyHTTP)
		return nil, errors.Wrap(err, "qa challenge request")
	}

	if !resp.IsSuccess() {
		r.metrics.ObserveChallengeError(strategyHTTP)
		r.logger.Warn("challenge endpoint rejected request",
			zap.Int("status", resp.StatusCode()), zap.String("method", p.Method), zap.String("path", p.Path))
		return nil, &StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}

	var out httpChallengeResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		r.metrics.ObserveChallengeError(strategyHTTP)
		return nil, errors.Wrapf(ErrChallengeFailed, "decode challenge response: %v", err)
	}
	if out.Headers == nil {
		return Proof{}, nil
	}
	return Proof(out.Headers), nil
}
