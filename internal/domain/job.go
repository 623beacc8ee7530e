package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки доменной модели.
var (
	// ErrUnknownTaskKind — вид задачи не поддерживается.
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrInvalidJob — job не прошёл валидацию.
	ErrInvalidJob = errors.New("invalid job")
)

// Job — единица работы в очереди.
//
// Job неизменяем после постановки в очередь. Повторная постановка
// (requeue) публикует то же значение с тем же ID.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Key — идентификатор тенанта/аккаунта. Работа по одному ключу
	// не выполняется параллельно.
	Key string `json:"key"`

	// EntityID — идентификатор сущности (товара).
	EntityID string `json:"entity_id"`

	// Kind — вид задачи.
	Kind TaskKind `json:"task_kind"`

	// Payload — сериализованный вариант задачи.
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt — время первой постановки в очередь.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob создаёт job для варианта задачи.
func NewJob(key, entityID string, task Task) (Job, error) {
	if task == nil {
		return Job{}, fmt.Errorf("%w: task is required", ErrInvalidJob)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", task.Kind(), err)
	}

	job := Job{
		ID:         uuid.New(),
		Key:        key,
		EntityID:   entityID,
		Kind:       task.Kind(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate проверяет обязательные поля job.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidJob)
	}
	if strings.TrimSpace(j.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidJob)
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidJob, ErrUnknownTaskKind, j.Kind)
	}
	return nil
}

// Task декодирует payload в вариант задачи.
func (j Job) Task() (Task, error) {
	return DecodeTask(j.Kind, j.Payload)
}

// Completion — отчёт о завершении под-задачи сущности для fan-in.
type Completion struct {
	JobID     uuid.UUID
	Key       string
	EntityID  string
	Kind      TaskKind
	Dimension Dimension

	// Failed — под-задача завершилась ошибкой. Она всё равно
	// засчитывается как завершённая.
	Failed bool

	// Message — текст ошибки, если Failed.
	Message string
}

// CompletionFor собирает Completion для job.
func CompletionFor(job Job, failed bool, message string) Completion {
	return Completion{
		JobID:     job.ID,
		Key:       job.Key,
		EntityID:  job.EntityID,
		Kind:      job.Kind,
		Dimension: job.Kind.Dimension(),
		Failed:    failed,
		Message:   message,
	}
}
