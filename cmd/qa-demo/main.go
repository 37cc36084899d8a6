// Command qa-demo runs a small backend whose routes are protected by QuantumAuth.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/audit"
	"github.com/quantumauth-io/quantumauth-go/config"
	"github.com/quantumauth-io/quantumauth-go/database"
	"github.com/quantumauth-io/quantumauth-go/log"
	"github.com/quantumauth-io/quantumauth-go/metrics"
	"github.com/quantumauth-io/quantumauth-go/middleware"
	"github.com/quantumauth-io/quantumauth-go/redis"
	"github.com/quantumauth-io/quantumauth-go/replay"
)

//go:embed config.yaml
var defaultConfig []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	settings, err := config.ParseConfigWithEmbedded[Settings]([]string{".", "./cmd/qa-demo"}, defaultConfig)
	if err != nil {
		return err
	}

	logger, err := log.New(settings.Log.Development, log.Level(settings.Log.Level))
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	log.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	guard, closeGuard, err := newReplayGuard(ctx, settings)
	if err != nil {
		return err
	}
	defer closeGuard()

	recorder, history, closeDB, err := newAuditRecorder(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	qa, err := middleware.New(middleware.Config{
		ServerURL:     settings.QuantumAuth.ServerURL,
		VerifyPath:    settings.QuantumAuth.VerifyPath,
		BackendAPIKey: settings.QuantumAuth.BackendAPIKey,
		Timeout:       settings.QuantumAuth.Timeout,
		Logger:        logger.Named("middleware"),
	},
		middleware.WithMetrics(metrics.New(reg)),
		middleware.WithReplayGuard(guard),
		middleware.WithAuditRecorder(recorder),
		middleware.WithCanonicalBinding(settings.QuantumAuth.CanonicalBinding),
	)
	if err != nil {
		return err
	}
	logger.Info("verifying requests", zap.String("endpoint", qa.Verifier().Endpoint()))

	srv := &http.Server{
		Addr:              settings.HTTP.Addr,
		Handler:           (&server{qa: qa, gatherer: reg, history: history, origins: settings.HTTP.AllowOrigins, logger: logger}).routes(),
		ReadHeaderTimeout: settings.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("qa-demo listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.HTTP.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newReplayGuard(ctx context.Context, settings *Settings) (replay.Guard, func(), error) {
	ttl := settings.QuantumAuth.ReplayTTL
	if !settings.Redis.Enabled {
		return replay.NewMemoryGuard(ttl), func() {}, nil
	}
	client, err := redis.NewClient(ctx, settings.Redis)
	if err != nil {
		return nil, nil, err
	}
	return replay.NewRedisGuard(client, ttl), func() { _ = client.Close() }, nil
}

// newAuditRecorder always logs outcomes and also stores them when a database is configured.
func newAuditRecorder(ctx context.Context, settings *Settings, logger *zap.Logger) (audit.Recorder, *audit.SQLRecorder, func(), error) {
	logRecorder := audit.NewLogRecorder(logger.Named("audit"))
	if !settings.Database.Enabled {
		return logRecorder, nil, func() {}, nil
	}

	db, err := database.Open(ctx, settings.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlRecorder := audit.NewSQLRecorder(db)
	if err := sqlRecorder.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return audit.Multi(logRecorder, sqlRecorder), sqlRecorder, func() { _ = db.Close() }, nil
}
