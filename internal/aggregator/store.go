package aggregator

import (
	"context"
	"errors"

	"github.com/shaiso/Sourcing/internal/domain"
)

// Ошибки хранилища состояния сущностей.
var (
	// ErrEntityNotFound — состояние сущности не создано.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityInProgress — у сущности есть незавершённые под-задачи.
	ErrEntityInProgress = errors.New("entity processing in progress")
)

// Tx — операции над состоянием сущности внутри одной транзакции.
type Tx interface {
	// LockEntity блокирует строку сущности до конца транзакции
	// и возвращает её текущее состояние.
	LockEntity(ctx context.Context, entityID string) (*domain.EntityState, error)

	// DecrementCounter уменьшает счётчик измерения при условии counter > 0
	// и перечитывает все счётчики сущности. applied=false означает, что
	// счётчик уже был нулём (или измерения нет) и ничего не изменилось.
	DecrementCounter(ctx context.Context, entityID string, dim domain.Dimension) (applied bool, remaining map[domain.Dimension]int, err error)

	// MarkDegraded выставляет флаг ошибки под-задачи.
	MarkDegraded(ctx context.Context, entityID string) error

	// SetTerminalStatus переводит сущность в терминальный статус, только
	// если текущий статус не терминальный. changed=false — переход уже был.
	SetTerminalStatus(ctx context.Context, entityID string, status domain.EntityStatus) (changed bool, err error)

	// AppendErrorRecord добавляет запись об ошибке.
	AppendErrorRecord(ctx context.Context, rec *domain.ErrorRecord) error
}

// Store — долговременное хранилище состояния сущностей.
type Store interface {
	// InTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// CreateEntity создаёт состояние со счётчиками. Если сущность уже
	// существует в терминальном статусе, состояние пересоздаётся;
	// если в нетерминальном — возвращается ErrEntityInProgress.
	CreateEntity(ctx context.Context, state *domain.EntityState) error

	// ResetEntity пересоздаёт состояние независимо от текущего статуса.
	// Используется для сущностей, застрявших в PENDING.
	ResetEntity(ctx context.Context, state *domain.EntityState) error

	// GetEntity возвращает состояние сущности.
	GetEntity(ctx context.Context, entityID string) (*domain.EntityState, error)
}
