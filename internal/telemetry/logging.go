package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel преобразует строку в уровень логирования.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger создаёт логгер с заданным форматом и уровнем.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", serviceName())
}

// serviceName берёт имя сервиса из SERVICE_NAME или из имени бинарника.
func serviceName() string {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		return name
	}
	if len(os.Args) > 0 {
		parts := strings.Split(os.Args[0], string(os.PathSeparator))
		return parts[len(parts)-1]
	}
	return "sourcing"
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithJob возвращает логгер с атрибутами job.
func WithJob(logger *slog.Logger, jobID, key, entityID, kind string) *slog.Logger {
	return logger.With(
		"job_id", jobID,
		"key", key,
		"entity_id", entityID,
		"task_kind", kind,
	)
}
