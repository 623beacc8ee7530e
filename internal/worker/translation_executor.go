package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Sourcing/internal/domain"
)

// Translator — сервис перевода и генерации SEO-полей.
type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (json.RawMessage, error)
}

// TranslationRequest — запрос к сервису перевода.
type TranslationRequest struct {
	Key      string          `json:"key"`
	EntityID string          `json:"entity_id"`
	Kind     domain.TaskKind `json:"task_kind"`
	Task     domain.Task     `json:"task"`
}

// TranslationExecutor выполняет translate_attribute, translate_option и generate_seo.
type TranslationExecutor struct {
	Translator Translator
}

// Execute отправляет задачу в сервис перевода.
func (e *TranslationExecutor) Execute(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error) {
	if !task.Kind().IsFanIn() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind())
	}

	out, err := e.Translator.Translate(ctx, TranslationRequest{
		Key:      job.Key,
		EntityID: job.EntityID,
		Kind:     task.Kind(),
		Task:     task,
	})
	if err != nil {
		return classify(err)
	}
	return &ExecutionResult{Output: out}, nil
}
