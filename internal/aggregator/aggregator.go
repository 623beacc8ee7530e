package aggregator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

// Result — итог обработки одного отчёта о завершении.
type Result struct {
	// Counted — отчёт уменьшил счётчик. false для дубликатов.
	Counted bool

	// Remaining — счётчики сущности после отчёта.
	Remaining map[domain.Dimension]int

	// Transitioned — именно этот отчёт перевёл сущность в терминальный статус.
	Transitioned bool

	// Status — статус сущности после отчёта.
	Status domain.EntityStatus
}

// Aggregator сводит завершения под-задач сущности в один терминальный статус.
//
// Каждый отчёт обрабатывается в одной транзакции:
//  1. блокировка строки сущности
//  2. декремент счётчика измерения с условием counter > 0
//  3. перечитывание всех счётчиков
//  4. при всех нулях — переход в терминальный статус, если его ещё не было
//
// Блокировка сущности сериализует отчёты по одной сущности, поэтому
// из двух почти одновременных последних отчётов ровно один увидит
// все нули и выполнит переход.
type Aggregator struct {
	store   Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Config — конфигурация Aggregator.
type Config struct {
	Store   Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт Aggregator.
func New(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Report учитывает завершение под-задачи.
//
// Ошибка под-задачи тоже уменьшает счётчик, но помечает сущность
// как degraded и добавляет ErrorRecord. Повторный отчёт (дубликат
// доставки) не меняет ни счётчики, ни статус.
func (a *Aggregator) Report(ctx context.Context, c domain.Completion) (*Result, error) {
	if c.Dimension == "" {
		return nil, fmt.Errorf("%w: %s has no fan-in dimension", domain.ErrInvalidJob, c.Kind)
	}

	result := &Result{}

	err := a.store.InTx(ctx, func(tx Tx) error {
		state, err := tx.LockEntity(ctx, c.EntityID)
		if err != nil {
			return err
		}

		applied, remaining, err := tx.DecrementCounter(ctx, c.EntityID, c.Dimension)
		if err != nil {
			return fmt.Errorf("decrement %s counter: %w", c.Dimension, err)
		}

		result.Remaining = remaining
		result.Status = state.Status

		if !applied {
			a.logger.Warn("completion ignored: counter already at zero",
				"entity_id", c.EntityID,
				"dimension", c.Dimension,
				"job_id", c.JobID,
				"status", state.Status,
			)
			a.metrics.CounterNoop()
			return nil
		}
		result.Counted = true

		if c.Failed {
			if err := tx.MarkDegraded(ctx, c.EntityID); err != nil {
				return fmt.Errorf("mark degraded: %w", err)
			}
			state.Degraded = true

			rec := domain.NewErrorRecord(c.Key, c.EntityID, c.Kind, c.Message)
			if err := tx.AppendErrorRecord(ctx, rec); err != nil {
				return fmt.Errorf("append error record: %w", err)
			}
		}

		if !domain.AllZero(remaining) || state.Status.IsTerminal() {
			return nil
		}

		target := state.TerminalStatus()
		changed, err := tx.SetTerminalStatus(ctx, c.EntityID, target)
		if err != nil {
			return fmt.Errorf("set terminal status: %w", err)
		}
		if changed {
			result.Transitioned = true
			result.Status = target
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Transitioned {
		a.metrics.EntityFinalized(string(result.Status))
		a.logger.Info("entity finalized",
			"entity_id", c.EntityID,
			"key", c.Key,
			"status", result.Status,
		)
	}

	return result, nil
}
