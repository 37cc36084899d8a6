// Package audit records the terminal outcome of every request the verification middleware handles.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantumauth-io/quantumauth-go/log"
)

type Record struct {
	ID          string
	Time        time.Time
	Outcome     string
	Status      int
	Method      string
	Path        string
	UserID      string
	DeviceID    string
	ChallengeID string
	Error       string
	Duration    time.Duration
}

type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// LogRecorder writes records to a zap logger.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(l *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: log.Named(l, "audit")}
}

func (r *LogRecorder) Record(_ context.Context, rec Record) error {
	fields := []zap.Field{
		zap.String("outcome", rec.Outcome),
		zap.Int("status", rec.Status),
		zap.String("method", rec.Method),
		zap.String("path", rec.Path),
		zap.Duration("duration", rec.Duration),
	}
	if rec.UserID != "" {
		fields = append(fields, zap.String("userId", rec.UserID))
	}
	if rec.DeviceID != "" {
		fields = append(fields, zap.String("deviceId", rec.DeviceID))
	}
	if rec.ChallengeID != "" {
		fields = append(fields, zap.String("challengeId", rec.ChallengeID))
	}
	if rec.Error != "" {
		fields = append(fields, zap.String("error", rec.Error))
	}
	r.logger.Info("quantumauth request", fields...)
	return nil
}

type multi []Recorder

// Multi fans a record out to every non-nil recorder and returns the first error.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Record(ctx context.Context, rec Record) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
