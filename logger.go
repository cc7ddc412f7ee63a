package tarantool

import (
	"context"
	"log"
	"log/slog"
)

// Logger receives client events. conn is nil for events that do not belong
// to a single connection.
type Logger interface {
	Report(event LogEvent, conn *Connection)
}

type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(logger *slog.Logger) SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogLogger{
		logger: logger,
		ctx:    context.Background(),
	}
}

func (l *SlogLogger) WithContext(ctx context.Context) SlogLogger {
	return SlogLogger{
		logger: l.logger,
		ctx:    ctx,
	}
}

func (l SlogLogger) Report(event LogEvent, conn *Connection) {
	if !l.logger.Enabled(l.ctx, event.LogLevel()) {
		return
	}
	attrs := event.LogAttrs()

	if conn != nil {
		keys := make(map[string]bool, len(attrs))
		for _, a := range attrs {
			keys[a.Key] = true
		}

		if !keys["connection_id"] {
			attrs = append(attrs, slog.String("connection_id", conn.Id().String()))
		}
		if !keys["connection_state"] {
			attrs = append(attrs, slog.String("connection_state", conn.State().String()))
		}
		if conn.opts.Timeout > 0 && !keys["request_timeout"] {
			attrs = append(attrs, slog.String("request_timeout", conn.opts.Timeout.String()))
		}
		if conn.opts.IdleTimeout > 0 && !keys["idle_timeout"] {
			attrs = append(attrs, slog.String("idle_timeout", conn.opts.IdleTimeout.String()))
		}
	}

	l.logger.LogAttrs(l.ctx, event.LogLevel(), event.Message(), attrs...)
}

type SimpleLogger struct{}

func (l SimpleLogger) Report(event LogEvent, conn *Connection) {
	attrs := event.LogAttrs()

	log.Printf("[%s] %s [event=%s]", event.LogLevel(), event.Message(), event.EventName())

	for _, attr := range attrs {
		if attr.Key == "error" {
			log.Printf("  Error: %v", attr.Value.Any())
		} else if attr.Key == "request_id" {
			log.Printf("  Request ID: %v", attr.Value.Any())
		}
	}
}
