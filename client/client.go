// Package client sends QuantumAuth-authenticated requests to a protected backend.
//
// Every call acquires a fresh proof for {method, path, backend host}, attaches it as request
// headers and, for CallProtected, replaces the JSON body with an encrypted envelope.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/challenge"
	"github.com/quantumauth-io/quantumauth-go/envelope"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/qa/headers"
	"github.com/quantumauth-io/quantumauth-go/qa/urls"
)

var (
	ErrNoSealer = errors.New("quantumauth: encrypted call requires an envelope sealer")
	ErrNoData   = errors.New("quantumauth: response carried no JSON body")
)

type Config struct {
	// BackendBaseURL is the protected backend, e.g. https://api.example.com.
	BackendBaseURL string
	Challenger     challenge.Requester
	// Sealer is required by CallProtected only.
	Sealer *envelope.Sealer
	AppID  string
	// BindEnvelope writes the proof's challenge id and nonce and the app id into each envelope.
	BindEnvelope bool
	HTTPClient   *resty.Client
	Logger       *zap.Logger
}

type Client struct {
	baseURL    string
	host       string
	challenger challenge.Requester
	sealer     *envelope.Sealer
	appID      string
	bind       bool
	http       *resty.Client
	logger     *zap.Logger
}

func New(cfg Config) (*Client, error) {
	base := urls.TrimTrailingSlashes(strings.TrimSpace(cfg.BackendBaseURL))
	if base == "" {
		return nil, errors.New("quantumauth: backend base URL is required")
	}
	if cfg.Challenger == nil {
		return nil, errors.New("quantumauth: a challenge requester is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// resty keeps a cookie jar, so backend session cookies ride along like browser credentials
		httpClient = resty.New()
	}
	return &Client{
		baseURL:    base,
		host:       urls.NormalizeHost(base),
		challenger: cfg.Challenger,
		sealer:     cfg.Sealer,
		appID:      cfg.AppID,
		bind:       cfg.BindEnvelope,
		http:       httpClient,
		logger:     log.Named(cfg.Logger, "client"),
	}, nil
}

// Options describe one call. A nil Body is sent as {} for methods other than GET.
type Options struct {
	Method string
	Path   string
	Body   any
}

// Result is the uniform outcome of a call that reached the challenge stage.
// Transport failures after the proof was issued are reported in Err with OK=false.
type Result struct {
	OK      bool
	Status  int
	Headers http.Header
	// Data is the response body when it parses as JSON, nil otherwise.
	Data json.RawMessage
	Raw  *resty.Response
	Err  error
}

// Decode unmarshals Data into v.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(r.Data, v)
}

// Request sends a signed request with a plain JSON body.
func (c *Client) Request(ctx context.Context, opts Options) (*Result, error) {
	return c.do(ctx, opts, false)
}

// CallProtected sends a signed request whose body is an encrypted envelope of opts.Body.
func (c *Client) CallProtected(ctx context.Context, opts Options) (*Result, error) {
	if c.sealer == nil {
		return nil, ErrNoSealer
	}
	return c.do(ctx, opts, true)
}

func (c *Client) do(ctx context.Context, opts Options, encrypt bool) (*Result, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}

	proof, err := c.challenger.RequestChallenge(ctx, challenge.Params{
		Method:      method,
		Path:        opts.Path,
		BackendHost: c.host,
		AppID:       c.appID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "quantumauth: acquire challenge")
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(headers.HeaderContentType.String(), headers.ContentTypeJSON)
	for name, value := range proof {
		req.SetHeader(name, value)
	}

	if method != http.MethodGet {
		body, err := c.body(ctx, opts.Body, proof, encrypt)
		if err != nil {
			return nil, err
		}
		req.SetBody(body)
	}

	url := urls.Join(c.baseURL, opts.Path)
	resp, err := req.Execute(method, url)
	if err != nil {
		c.logger.Warn("protected request failed", zap.String("method", method), zap.String("path", opts.Path), zap.Error(err))
		return &Result{OK: false, Raw: resp, Err: err}, nil
	}

	c.logger.Debug("protected request completed",
		zap.String("method", method), zap.String("path", opts.Path), zap.Int("status", resp.StatusCode()))

	return &Result{
		OK:      resp.IsSuccess(),
		Status:  resp.StatusCode(),
		Headers: resp.Header(),
		Data:    parseJSON(resp.Body()),
		Raw:     resp,
	}, nil
}

func (c *Client) body(ctx context.Context, payload any, proof challenge.Proof, encrypt bool) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	if !encrypt {
		raw, err := json.Marshal(payload)
		return raw, errors.Wrap(err, "quantumauth: encode body")
	}

	var binding envelope.Binding
	if c.bind {
		binding = envelope.Binding{
			ChallengeID: proofValue(proof, headers.HeaderQuantumAuthChallengeID),
			Nonce:       proofValue(proof, headers.HeaderQuantumAuthNonce),
			AppID:       c.appID,
		}
	}
	env, err := c.sealer.Seal(ctx, payload, binding)
	if err != nil {
		return nil, errors.Wrap(err, "quantumauth: encrypt body")
	}
	raw, err := json.Marshal(env)
	return raw, errors.Wrap(err, "quantumauth: encode envelope")
}

func proofValue(proof challenge.Proof, key headers.HeaderKey) string {
	for name, value := range proof {
		if strings.EqualFold(name, key.String()) {
			return value
		}
	}
	return ""
}

func parseJSON(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil
	}
	return json.RawMessage(trimmed)
}
