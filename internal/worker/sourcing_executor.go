package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Sourcing/internal/domain"
)

// SourcingChecker — сервис проверки наличия товара у поставщика.
type SourcingChecker interface {
	Check(ctx context.Context, key, sourceURL string) (json.RawMessage, error)
}

// SourcingStatusExecutor выполняет update_sourcing_status.
type SourcingStatusExecutor struct {
	Checker SourcingChecker
}

// Execute запрашивает статус товара у поставщика.
func (e *SourcingStatusExecutor) Execute(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error) {
	upd, ok := task.(*domain.SourcingStatusUpdate)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind())
	}
	if upd.SourceURL == "" {
		return &ExecutionResult{Error: "source_url is required"}, nil
	}

	out, err := e.Checker.Check(ctx, job.Key, upd.SourceURL)
	if err != nil {
		return classify(err)
	}
	return &ExecutionResult{Output: out}, nil
}
