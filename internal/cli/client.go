package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DispatchResponse — итог рассылки под-задач.
type DispatchResponse struct {
	EntityID string   `json:"entity_id"`
	Status   string   `json:"status"`
	Jobs     []string `json:"jobs"`
	Failed   int      `json:"failed"`
}

// EntityResponse — состояние обработки сущности.
type EntityResponse struct {
	EntityID   string         `json:"entity_id"`
	Key        string         `json:"key"`
	Status     string         `json:"status"`
	Degraded   bool           `json:"degraded"`
	Remaining  map[string]int `json:"remaining"`
	Initial    map[string]int `json:"initial"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
}

// ErrorRecordResponse — запись журнала ошибок.
type ErrorRecordResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"task_kind,omitempty"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// JobResponse — поставленный в очередь job.
type JobResponse struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	EntityID   string `json:"entity_id"`
	Kind       string `json:"task_kind"`
	EnqueuedAt string `json:"enqueued_at"`
}

// AttemptResponse — попытка single-job задачи.
type AttemptResponse struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	Kind          string          `json:"task_kind"`
	Status        string          `json:"status"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     string          `json:"created_at"`
	FinishedAt    string          `json:"finished_at,omitempty"`
}

// --- Request types ---

// TaskRequest — под-задача: вид и payload.
type TaskRequest struct {
	Kind    string          `json:"task_kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DispatchRequest — рассылка под-задач сущности.
type DispatchRequest struct {
	Key      string        `json:"key"`
	EntityID string        `json:"entity_id"`
	Tasks    []TaskRequest `json:"tasks"`
	Force    bool          `json:"force,omitempty"`
}

// SubmitRequest — single-job задача.
type SubmitRequest struct {
	Key      string          `json:"key"`
	EntityID string          `json:"entity_id"`
	Kind     string          `json:"task_kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API сервиса.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Entities ---

// Dispatch рассылает под-задачи сущности.
func (c *Client) Dispatch(req DispatchRequest) (*DispatchResponse, error) {
	var result DispatchResponse
	err := c.post("/api/v1/entities", req, &result)
	return &result, err
}

// GetEntity возвращает состояние сущности.
func (c *Client) GetEntity(id string) (*EntityResponse, error) {
	var entity EntityResponse
	err := c.get("/api/v1/entities/"+url.PathEscape(id), &entity)
	return &entity, err
}

// ListErrors возвращает журнал ошибок сущности.
func (c *Client) ListErrors(entityID string) ([]ErrorRecordResponse, error) {
	var records []ErrorRecordResponse
	err := c.list("/api/v1/entities/"+url.PathEscape(entityID)+"/errors", nil, &records)
	return records, err
}

// ListAttempts возвращает попытки single-job задач сущности.
func (c *Client) ListAttempts(entityID string) ([]AttemptResponse, error) {
	var attempts []AttemptResponse
	err := c.list("/api/v1/entities/"+url.PathEscape(entityID)+"/attempts", nil, &attempts)
	return attempts, err
}

// --- Jobs ---

// Submit ставит в очередь single-job задачу.
func (c *Client) Submit(req SubmitRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs", req, &job)
	return &job, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
