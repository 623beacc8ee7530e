package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shaiso/Sourcing/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes — предел чтения тела ответа внешнего сервиса.
	maxResponseBytes = 1 << 20
)

// StatusError — внешний сервис ответил кодом >= 400.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary — 5xx считается сбоем инфраструктуры, 4xx — отказом сервиса.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// serviceClient — общий JSON-клиент для внешних сервисов.
type serviceClient struct {
	name    string
	baseURL string
	http    *http.Client
}

func newServiceClient(name, baseURL string, timeout time.Duration) *serviceClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &serviceClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do выполняет запрос и возвращает тело ответа 2xx.
func (c *serviceClient) do(ctx context.Context, method, path string, headers map[string]string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", c.name, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHTTPRequest, c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrHTTPRequest, c.name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{
			Service:    c.name,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 200),
		}
	}
	return respBody, nil
}

// HTTPTranslator — Translator поверх HTTP API.
//
// POST {baseURL}/v1/translate с TranslationRequest в теле.
type HTTPTranslator struct {
	client *serviceClient
}

// NewHTTPTranslator создаёт HTTPTranslator.
func NewHTTPTranslator(baseURL string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{client: newServiceClient("translator", baseURL, timeout)}
}

// Translate реализует Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, req TranslationRequest) (json.RawMessage, error) {
	body, err := t.client.do(ctx, http.MethodPost, "/v1/translate", nil, req)
	if err != nil {
		return nil, err
	}
	return rawJSON(body), nil
}

// HTTPMarketplace — Marketplace поверх HTTP API.
//
// POST {baseURL}/v1/products, ключ тенанта в заголовке Authorization.
type HTTPMarketplace struct {
	client *serviceClient
}

// NewHTTPMarketplace создаёт HTTPMarketplace.
func NewHTTPMarketplace(baseURL string, timeout time.Duration) *HTTPMarketplace {
	return &HTTPMarketplace{client: newServiceClient("marketplace", baseURL, timeout)}
}

// Register реализует Marketplace.
func (m *HTTPMarketplace) Register(ctx context.Context, cred *domain.Credential, listing json.RawMessage) (*RegistrationResponse, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + cred.APIKey,
		"X-Marketplace": cred.Marketplace,
	}

	body, err := m.client.do(ctx, http.MethodPost, "/v1/products", headers, listing)
	if err != nil {
		return nil, err
	}

	resp := &RegistrationResponse{Raw: rawJSON(body)}
	if err := json.Unmarshal(body, resp); err != nil {
		// Тело 2xx без JSON — ответ не распознан, не сбой
		return &RegistrationResponse{Raw: resp.Raw}, nil
	}
	return resp, nil
}

// HTTPSourcingChecker — SourcingChecker поверх HTTP API.
//
// GET {baseURL}/v1/status?url=...
type HTTPSourcingChecker struct {
	client *serviceClient
}

// NewHTTPSourcingChecker создаёт HTTPSourcingChecker.
func NewHTTPSourcingChecker(baseURL string, timeout time.Duration) *HTTPSourcingChecker {
	return &HTTPSourcingChecker{client: newServiceClient("sourcing", baseURL, timeout)}
}

// Check реализует SourcingChecker.
func (s *HTTPSourcingChecker) Check(ctx context.Context, key, sourceURL string) (json.RawMessage, error) {
	query := url.Values{"url": {sourceURL}, "key": {key}}
	body, err := s.client.do(ctx, http.MethodGet, "/v1/status?"+query.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	return rawJSON(body), nil
}

// rawJSON возвращает тело как JSON; не-JSON тело оборачивается в строку.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

// truncate обрезает строку до maxLen байт, не разрывая символы UTF-8.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
