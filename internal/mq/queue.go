package mq

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Sourcing/internal/domain"
)

// Ошибки очереди.
var (
	// ErrEmpty — за время ожидания в очереди не появилось ни одного job.
	ErrEmpty = errors.New("queue is empty")

	// ErrClosed — очередь закрыта.
	ErrClosed = errors.New("queue is closed")

	// ErrNoChannel — нет открытого AMQP канала.
	ErrNoChannel = errors.New("no channel available")
)

// JobQueue — долговременная FIFO-очередь jobs для стадии пайплайна.
//
// Семантика доставки — at-most-once: job, извлечённый Dequeue,
// считается доставленным. Если воркер упадёт после извлечения,
// job будет потерян.
type JobQueue interface {
	// Enqueue ставит job в хвост очереди. Ошибка возможна только
	// при сбое транспорта.
	Enqueue(ctx context.Context, queue Queue, job domain.Job) error

	// Dequeue блокируется до появления job или истечения timeout.
	// timeout <= 0 — ждать бесконечно (до отмены ctx).
	// По истечении timeout возвращает ErrEmpty.
	Dequeue(ctx context.Context, queue Queue, timeout time.Duration) (*domain.Job, error)
}

// QueueFor возвращает очередь стадии пайплайна для вида задачи.
func QueueFor(kind domain.TaskKind) Queue {
	switch kind {
	case domain.TaskKindRegisterListing:
		return QueueRegistration
	case domain.TaskKindUpdateSourcingStatus:
		return QueueSourcingStatus
	default:
		return QueueTranslation
	}
}

// ParseQueue проверяет имя очереди стадии.
func ParseQueue(name string) (Queue, bool) {
	for _, q := range StageQueues() {
		if string(q) == name {
			return q, true
		}
	}
	return "", false
}
