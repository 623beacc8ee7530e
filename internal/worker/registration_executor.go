package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/repo"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

// CredentialStore — ключи тенантов. Реализуется repo.CredentialRepo.
// Отсутствующий ключ — repo.ErrNotFound.
type CredentialStore interface {
	Get(ctx context.Context, key, marketplace string) (*domain.Credential, error)
}

// Marketplace — API регистрации товаров.
type Marketplace interface {
	Register(ctx context.Context, cred *domain.Credential, listing json.RawMessage) (*RegistrationResponse, error)
}

// RegistrationResponse — ответ маркетплейса на регистрацию.
type RegistrationResponse struct {
	Result    string          `json:"result"`
	ProductNo string          `json:"product_no"`
	Raw       json.RawMessage `json:"-"`
}

// Succeeded проверяет, что ответ распознан как успешная регистрация.
func (r *RegistrationResponse) Succeeded() bool {
	return r != nil && r.Result == "success" && r.ProductNo != ""
}

// RegistrationExecutor выполняет register_listing.
type RegistrationExecutor struct {
	Credentials CredentialStore
	Marketplace Marketplace
}

// Execute регистрирует товар от имени тенанта.
//
// Без ключа тенанта маркетплейс не вызывается.
func (e *RegistrationExecutor) Execute(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error) {
	reg, ok := task.(*domain.ListingRegistration)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind())
	}

	cred, err := e.Credentials.Get(ctx, job.Key, reg.Marketplace)
	if errors.Is(err, repo.ErrNotFound) {
		return &ExecutionResult{
			Error: fmt.Sprintf("%v: %s for %s", ErrMissingCredential, job.Key, reg.Marketplace),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	resp, err := e.Marketplace.Register(ctx, cred, reg.Listing)
	if err != nil {
		return classify(err)
	}

	if resp == nil {
		resp = &RegistrationResponse{}
	}
	if !resp.Succeeded() {
		telemetry.FromContext(ctx).Warn("unrecognized marketplace response",
			"marketplace", reg.Marketplace,
			"result", resp.Result,
		)
		return &ExecutionResult{
			Output: resp.Raw,
			Error:  fmt.Sprintf("%v: result=%q product_no=%q", ErrUnrecognizedResponse, resp.Result, resp.ProductNo),
		}, nil
	}
	return &ExecutionResult{Output: resp.Raw}, nil
}
