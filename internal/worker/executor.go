package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaiso/Sourcing/internal/domain"
)

// Executor — выполнение задачи конкретного вида.
//
// task — уже декодированный вариант payload job'а.
//
// Ошибки двух уровней:
//   - error — инфраструктурная (сеть, 5xx); воркер один раз повторяет вызов
//   - ExecutionResult.Error — логическая (4xx, нет ключа, ответ не распознан); без повтора
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения job.
type ExecutionResult struct {
	// Output — ответ внешнего сервиса при успехе.
	Output json.RawMessage

	// Error — сообщение о логической ошибке.
	Error string
}

// Failed проверяет, завершилось ли выполнение логической ошибкой.
func (r *ExecutionResult) Failed() bool {
	return r == nil || r.Error != ""
}

// Registry — реестр executor'ов по виду задачи.
type Registry struct {
	executors map[domain.TaskKind]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.TaskKind]Executor)}
}

// Register добавляет executor для вида задачи.
func (r *Registry) Register(kind domain.TaskKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для вида задачи.
func (r *Registry) Get(kind domain.TaskKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, kind)
	}
	return executor, nil
}

// Kinds возвращает зарегистрированные виды задач.
func (r *Registry) Kinds() []domain.TaskKind {
	kinds := make([]domain.TaskKind, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Collaborators — внешние сервисы, которые вызывают executor'ы.
type Collaborators struct {
	Translator  Translator
	Marketplace Marketplace
	Credentials CredentialStore
	Sourcing    SourcingChecker
}

// NewDefaultRegistry регистрирует executor'ы для всех видов задач.
// Виды, для которых не задан внешний сервис, не регистрируются.
func NewDefaultRegistry(c Collaborators) *Registry {
	r := NewRegistry()

	if c.Translator != nil {
		translation := &TranslationExecutor{Translator: c.Translator}
		r.Register(domain.TaskKindTranslateAttribute, translation)
		r.Register(domain.TaskKindTranslateOption, translation)
		r.Register(domain.TaskKindGenerateSEO, translation)
	}
	if c.Marketplace != nil && c.Credentials != nil {
		r.Register(domain.TaskKindRegisterListing, &RegistrationExecutor{
			Credentials: c.Credentials,
			Marketplace: c.Marketplace,
		})
	}
	if c.Sourcing != nil {
		r.Register(domain.TaskKindUpdateSourcingStatus, &SourcingStatusExecutor{Checker: c.Sourcing})
	}

	return r
}

// classify переводит ошибку внешнего вызова в результат executor'а:
// отказ сервиса (4xx) — логическая ошибка, остальное — инфраструктурная.
func classify(err error) (*ExecutionResult, error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return &ExecutionResult{Error: statusErr.Error()}, nil
	}
	return nil, err
}
