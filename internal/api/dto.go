package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sourcing/internal/dispatch"
	"github.com/shaiso/Sourcing/internal/domain"
)

// Task DTOs

// TaskRequest — под-задача в запросе: вид и сырой payload.
type TaskRequest struct {
	Kind    domain.TaskKind `json:"task_kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToDomain декодирует payload в вариант задачи.
func (t TaskRequest) ToDomain() (domain.Task, error) {
	return domain.DecodeTask(t.Kind, t.Payload)
}

// Entity DTOs

// DispatchRequest — запрос на рассылку под-задач сущности.
type DispatchRequest struct {
	Key      string        `json:"key"`
	EntityID string        `json:"entity_id"`
	Tasks    []TaskRequest `json:"tasks"`

	// Force пересоздаёт счётчики сущности, застрявшей в PENDING.
	Force bool `json:"force,omitempty"`
}

// DecodeTasks декодирует все задачи запроса.
func (r DispatchRequest) DecodeTasks() ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(r.Tasks))
	for i, t := range r.Tasks {
		task, err := t.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// DispatchResponse — итог рассылки.
type DispatchResponse struct {
	EntityID string              `json:"entity_id"`
	Status   domain.EntityStatus `json:"status"`
	Jobs     []uuid.UUID         `json:"jobs"`
	Failed   int                 `json:"failed"`
}

// DispatchFromResult конвертирует dispatch.Result в DispatchResponse.
func DispatchFromResult(r dispatch.Result) DispatchResponse {
	jobs := r.Jobs
	if jobs == nil {
		jobs = []uuid.UUID{}
	}
	return DispatchResponse{
		EntityID: r.EntityID,
		Status:   r.Status,
		Jobs:     jobs,
		Failed:   r.Failed,
	}
}

// EntityResponse — состояние обработки сущности.
type EntityResponse struct {
	EntityID   string                   `json:"entity_id"`
	Key        string                   `json:"key"`
	Status     domain.EntityStatus      `json:"status"`
	Degraded   bool                     `json:"degraded"`
	Remaining  map[domain.Dimension]int `json:"remaining"`
	Initial    map[domain.Dimension]int `json:"initial"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
}

// EntityFromDomain конвертирует domain.EntityState в EntityResponse.
func EntityFromDomain(e domain.EntityState) EntityResponse {
	return EntityResponse{
		EntityID:   e.EntityID,
		Key:        e.Key,
		Status:     e.Status,
		Degraded:   e.Degraded,
		Remaining:  e.Counters,
		Initial:    e.Initial,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		FinishedAt: e.FinishedAt,
	}
}

// ErrorRecordResponse — запись журнала ошибок.
type ErrorRecordResponse struct {
	ID        uuid.UUID       `json:"id"`
	Kind      domain.TaskKind `json:"task_kind,omitempty"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorRecordFromDomain конвертирует domain.ErrorRecord в ErrorRecordResponse.
func ErrorRecordFromDomain(r domain.ErrorRecord) ErrorRecordResponse {
	return ErrorRecordResponse{
		ID:        r.ID,
		Kind:      r.Kind,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
	}
}

// Job DTOs

// SubmitRequest — запрос на single-job задачу.
type SubmitRequest struct {
	Key      string          `json:"key"`
	EntityID string          `json:"entity_id"`
	Kind     domain.TaskKind `json:"task_kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// JobResponse — поставленный в очередь job.
type JobResponse struct {
	ID         uuid.UUID       `json:"id"`
	Key        string          `json:"key"`
	EntityID   string          `json:"entity_id"`
	Kind       domain.TaskKind `json:"task_kind"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Key:        j.Key,
		EntityID:   j.EntityID,
		Kind:       j.Kind,
		EnqueuedAt: j.EnqueuedAt,
	}
}

// AttemptResponse — попытка выполнения single-job задачи.
type AttemptResponse struct {
	ID            uuid.UUID            `json:"id"`
	JobID         uuid.UUID            `json:"job_id"`
	Kind          domain.TaskKind      `json:"task_kind"`
	Status        domain.AttemptStatus `json:"status"`
	ResultPayload json.RawMessage      `json:"result_payload,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
}

// AttemptFromDomain конвертирует domain.RegistrationAttempt в AttemptResponse.
func AttemptFromDomain(a domain.RegistrationAttempt) AttemptResponse {
	return AttemptResponse{
		ID:            a.ID,
		JobID:         a.JobID,
		Kind:          a.Kind,
		Status:        a.Status,
		ResultPayload: a.ResultPayload,
		FailureReason: a.FailureReason,
		CreatedAt:     a.CreatedAt,
		FinishedAt:    a.FinishedAt,
	}
}
