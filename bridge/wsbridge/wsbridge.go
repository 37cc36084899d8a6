// Package wsbridge carries bridge messages over a WebSocket connection to a credential holder.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/retry"
)

const (
	defaultDialAttempts = 5
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 1 << 20
)

type options struct {
	logger       *zap.Logger
	retryConfig  *retry.Config
	httpClient   *http.Client
	writeTimeout time.Duration
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetry sets the dial retry policy. The default is five retries with a one second delay ceiling.
func WithRetry(cfg *retry.Config) Option {
	return func(o *options) { o.retryConfig = cfg }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		retryConfig:  retry.Bounded(defaultDialAttempts),
		httpClient:   &http.Client{Timeout: 8 * time.Second},
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = log.Named(o.logger, "wsbridge")
	return o
}

// Transport implements bridge.Transport on top of a single WebSocket connection.
type Transport struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.RWMutex
	subs   map[int]func(bridge.Message)
	nextID int

	cancel    context.CancelFunc
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

var _ bridge.Transport = (*Transport)(nil)

// Dial connects to a credential holder at url, retrying failed handshakes.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	o := buildOptions(opts)
	conn, err := retry.Do(ctx, o.retryConfig, func(ctx context.Context) (*websocket.Conn, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: o.httpClient})
		return c, err
	}, nil, "dial credential holder "+url)
	if err != nil {
		return nil, err
	}
	o.logger.Info("connected to credential holder", zap.String("url", url))
	return newTransport(conn, o), nil
}

// New wraps an established connection and starts reading from it.
func New(conn *websocket.Conn, opts ...Option) *Transport {
	return newTransport(conn, buildOptions(opts))
}

func newTransport(conn *websocket.Conn, o options) *Transport {
	conn.SetReadLimit(readLimit)
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:         conn,
		logger:       o.logger,
		writeTimeout: o.writeTimeout,
		subs:         make(map[int]func(bridge.Message)),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go t.readLoop(ctx)
	return t
}

func (t *Transport) Post(ctx context.Context, msg bridge.Message) error {
	select {
	case <-t.done:
		return errors.Wrap(bridge.ErrClosed, "wsbridge: connection gone")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wsjson.Write(ctx, t.conn, msg); err != nil {
		return errors.Wrap(err, "wsbridge: write message")
	}
	return nil
}

func (t *Transport) Subscribe(fn func(bridge.Message)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Done is closed once the read loop stops.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped the read loop, if any.
func (t *Transport) Err() error {
	<-t.done
	return t.readErr
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close(websocket.StatusNormalClosure, "closed")
		t.cancel()
		<-t.done
	})
	return err
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)
	for {
		_, raw, err := t.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.logger.Warn("credential holder connection lost", zap.Error(err))
				t.readErr = err
			}
			return
		}
		var msg bridge.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		t.publish(msg)
	}
}

func (t *Transport) publish(msg bridge.Message) {
	t.mu.RLock()
	subs := make([]func(bridge.Message), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
}
