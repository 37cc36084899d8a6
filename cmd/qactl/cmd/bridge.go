package cmd

import (
	"context"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/bridge/wsbridge"
	"github.com/quantumauth-io/quantumauth-go/retry"
)

const dialAttempts = 3

// dialHolder opens a bridge channel to a credential holder listening on a WebSocket URL.
func dialHolder(ctx context.Context, url string, opts ...bridge.Option) (*bridge.Channel, func(), error) {
	if url == "" {
		return nil, nil, errors.New("--bridge is required")
	}
	tr, err := wsbridge.Dial(ctx, url, wsbridge.WithRetry(retry.Bounded(dialAttempts)))
	if err != nil {
		return nil, nil, err
	}
	ch := bridge.NewChannel(tr, opts...)
	return ch, func() {
		_ = ch.Close()
		_ = tr.Close()
	}, nil
}
