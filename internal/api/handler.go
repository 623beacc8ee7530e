package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Sourcing/internal/dispatch"
	"github.com/shaiso/Sourcing/internal/domain"
)

// Dispatcher — producer под-задач. Реализуется dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, key, entityID string, tasks []domain.Task) (*dispatch.Result, error)
	Redispatch(ctx context.Context, key, entityID string, tasks []domain.Task) (*dispatch.Result, error)
	Submit(ctx context.Context, key, entityID string, task domain.Task) (*domain.Job, error)
}

// EntityReader — чтение состояния сущностей. Реализуется aggregator.Store.
type EntityReader interface {
	GetEntity(ctx context.Context, entityID string) (*domain.EntityState, error)
}

// ErrorLister — журнал ошибок. Реализуется repo.ErrorRepo.
type ErrorLister interface {
	ListByEntity(ctx context.Context, entityID string) ([]domain.ErrorRecord, error)
}

// AttemptLister — попытки single-job задач. Реализуется repo.AttemptRepo.
type AttemptLister interface {
	ListByEntity(ctx context.Context, entityID string) ([]domain.RegistrationAttempt, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	dispatcher Dispatcher
	entities   EntityReader
	errors     ErrorLister
	attempts   AttemptLister
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Dispatcher Dispatcher
	Entities   EntityReader
	Errors     ErrorLister
	Attempts   AttemptLister
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		dispatcher: cfg.Dispatcher,
		entities:   cfg.Entities,
		errors:     cfg.Errors,
		attempts:   cfg.Attempts,
		logger:     logger,
	}
}
