// Package logging provides the hub's process-wide structured logger, built
// on zap, threading room_id/client_id out of context.Context the way a
// request-scoped logger should.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	RoomIDKey   contextKey = "room_id"
	ClientIDKey contextKey = "client_id"
)

// Init builds the global logger. development selects a human-readable,
// color-leveled encoder; otherwise JSON with ISO8601 timestamps for
// production log aggregation.
func Init(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if Init
// was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// WithRoom returns a context carrying room_id for subsequent log calls.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithClient returns a context carrying client_id for subsequent log calls.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

func fields(ctx context.Context, extra []zap.Field) []zap.Field {
	if ctx == nil {
		return extra
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		extra = append(extra, zap.String("room_id", rid))
	}
	if cid, ok := ctx.Value(ClientIDKey).(string); ok {
		extra = append(extra, zap.String("client_id", cid))
	}
	return extra
}

func Info(ctx context.Context, msg string, f ...zap.Field) { L().Info(msg, fields(ctx, f)...) }
func Warn(ctx context.Context, msg string, f ...zap.Field) { L().Warn(msg, fields(ctx, f)...) }
func Error(ctx context.Context, msg string, f ...zap.Field) { L().Error(msg, fields(ctx, f)...) }
func Fatal(ctx context.Context, msg string, f ...zap.Field) { L().Fatal(msg, fields(ctx, f)...) }
