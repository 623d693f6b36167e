package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/querypilot/querypilot/internal/config"
)

type ctxKey string

const (
	traceIDKey        ctxKey = "trace_id"
	conversationIDKey ctxKey = "conversation_id"
)

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// DiscardLogger is used by components constructed without a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func ContextWithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

func ConversationIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(conversationIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// RequestAttrs returns the correlation attributes carried by ctx.
func RequestAttrs(ctx context.Context) []any {
	attrs := make([]any, 0, 2)
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if conversationID := ConversationIDFromContext(ctx); conversationID != "" {
		attrs = append(attrs, slog.String("conversation_id", conversationID))
	}
	return attrs
}
