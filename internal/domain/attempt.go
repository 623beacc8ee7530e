package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegistrationAttempt — попытка выполнения single-job задачи
// (регистрация на маркетплейсе, обновление статуса поставщика).
//
// Создаётся в статусе pending, когда job принят admission controller'ом.
// В терминальный статус переводится ровно тем воркером, который её выполнял.
type RegistrationAttempt struct {
	ID       uuid.UUID     `json:"id"`
	JobID    uuid.UUID     `json:"job_id"`
	Key      string        `json:"key"`
	EntityID string        `json:"entity_id"`
	Kind     TaskKind      `json:"task_kind"`
	Status   AttemptStatus `json:"status"`

	// ResultPayload — ответ внешнего API при успехе.
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`

	// FailureReason — причина неудачи.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewAttempt создаёт pending-попытку для job.
func NewAttempt(job Job) *RegistrationAttempt {
	return &RegistrationAttempt{
		ID:        uuid.New(),
		JobID:     job.ID,
		Key:       job.Key,
		EntityID:  job.EntityID,
		Kind:      job.Kind,
		Status:    AttemptStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkSuccess переводит попытку в success с результатом.
func (a *RegistrationAttempt) MarkSuccess(result json.RawMessage) {
	now := time.Now().UTC()
	a.Status = AttemptStatusSuccess
	a.ResultPayload = result
	a.FinishedAt = &now
}

// MarkFail переводит попытку в fail с причиной.
func (a *RegistrationAttempt) MarkFail(reason string) {
	now := time.Now().UTC()
	a.Status = AttemptStatusFail
	a.FailureReason = reason
	a.FinishedAt = &now
}

// Duration возвращает продолжительность попытки.
func (a *RegistrationAttempt) Duration() time.Duration {
	if a.FinishedAt == nil {
		return 0
	}
	return a.FinishedAt.Sub(a.CreatedAt)
}
