// Package audit records who changed what. Entries go to the shared logger with type=audit.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"soundmint.org/internal/auth"
	"soundmint.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request identifier attached by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// LogEvent writes an audit entry enriched with the request id and caller.
func LogEvent(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := make([]zap.Field, 0, len(fields)+4)
	entry = append(entry, zap.String("type", "audit"), zap.String("event", event))
	if rid := RequestID(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	if caller, ok := auth.CallerFromContext(ctx); ok {
		entry = append(entry, zap.String("caller", caller.Hex()))
	}
	if len(fields) > 0 {
		entry = append(entry, zap.Dict("fields", fields...))
	}
	obs.Logger().Info("audit", entry...)
	return nil
}
