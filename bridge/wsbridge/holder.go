package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/bridge"
	"github.com/quantumauth-io/quantumauth-go/log"
)

// Serve answers REQUEST frames on conn with h until ctx is done or the peer disconnects.
// Each request is handled on its own goroutine; replies are written one at a time.
func Serve(ctx context.Context, conn *websocket.Conn, h bridge.Handler) error {
	conn.SetReadLimit(readLimit)
	logger := log.Named(nil, "wsbridge.holder")

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "wsbridge: read request")
		}
		var req bridge.Message
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != bridge.TypeRequest {
			logger.Debug("ignoring non-request frame")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, ok := h(ctx, req)
			if !ok {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				logger.Debug("failed to write reply", zap.Error(err))
			}
		}()
	}
}

// Handler upgrades HTTP requests to WebSocket and serves them with h.
func Handler(h bridge.Handler, opts *websocket.AcceptOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		if err := Serve(r.Context(), conn, h); err != nil {
			log.Named(nil, "wsbridge.holder").Debug("holder connection ended", zap.Error(err))
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	})
}
