package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/mq"
)

func TestHTTPTranslator_PostsTask(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/translate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]any{"title": "셔츠"})
	}))
	defer server.Close()

	tr := NewHTTPTranslator(server.URL+"/", time.Second)
	out, err := tr.Translate(context.Background(), TranslationRequest{
		Key:      "tenant-1",
		EntityID: "P1",
		Kind:     domain.TaskKindGenerateSEO,
		Task:     &domain.SEOGeneration{Title: "shirt", TargetLang: "ko"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["task_kind"] != "generate_seo" {
		t.Errorf("expected task_kind generate_seo, got %v", received["task_kind"])
	}
	task, ok := received["task"].(map[string]any)
	if !ok || task["title"] != "shirt" {
		t.Errorf("task payload not sent: %v", received["task"])
	}

	var body map[string]string
	if err := json.Unmarshal(out, &body); err != nil || body["title"] != "셔츠" {
		t.Errorf("unexpected output %s", out)
	}
}

func TestHTTPMarketplace_Responses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   bool
		temporary bool
		succeeded bool
	}{
		{"success", http.StatusOK, `{"result":"success","product_no":"1001"}`, false, false, true},
		{"success without product", http.StatusOK, `{"result":"success"}`, false, false, false},
		{"not json", http.StatusOK, `accepted`, false, false, false},
		{"bad request", http.StatusBadRequest, `{"message":"invalid category"}`, true, false, false},
		{"server error", http.StatusBadGateway, `upstream`, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("unexpected Authorization %q", got)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			m := NewHTTPMarketplace(server.URL, time.Second)
			cred := &domain.Credential{Key: "tenant-1", Marketplace: "smartstore", APIKey: "secret"}
			resp, err := m.Register(context.Background(), cred, json.RawMessage(`{"name":"shirt"}`))

			if tt.wantErr {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("expected StatusError, got %v", err)
				}
				if statusErr.Temporary() != tt.temporary {
					t.Errorf("Temporary() = %v, want %v", statusErr.Temporary(), tt.temporary)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Succeeded() != tt.succeeded {
				t.Errorf("Succeeded() = %v, want %v", resp.Succeeded(), tt.succeeded)
			}
		})
	}
}

func TestHTTPSourcingChecker_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("url"); got != "https://supplier.example/item?id=1" {
			t.Errorf("unexpected url param %q", got)
		}
		w.Write([]byte(`{"in_stock":false}`))
	}))
	defer server.Close()

	c := NewHTTPSourcingChecker(server.URL, time.Second)
	out, err := c.Check(context.Background(), "tenant-1", "https://supplier.example/item?id=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"in_stock":false}` {
		t.Errorf("unexpected output %s", out)
	}
}

func TestHTTPClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	tr := NewHTTPTranslator(url, time.Second)
	_, err := tr.Translate(context.Background(), TranslationRequest{Kind: domain.TaskKindGenerateSEO})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestRegistrationExecutor_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"duplicate product"}`))
	}))
	defer server.Close()

	h := newHarness()
	creds := memCredentials{"tenant-1/smartstore": {Key: "tenant-1", Marketplace: "smartstore", APIKey: "k"}}
	registry := NewDefaultRegistry(Collaborators{
		Marketplace: NewHTTPMarketplace(server.URL, time.Second),
		Credentials: creds,
	})
	h.start(t, mq.QueueRegistration, registry, 1)

	job := h.enqueue(t, "tenant-1", "P1", domain.ListingRegistration{Marketplace: "smartstore", Listing: json.RawMessage(`{}`)})
	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	a, _ := h.attempts.byJob(job.ID)
	if a.Status != domain.AttemptStatusFail {
		t.Errorf("expected fail, got %s", a.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestRegistrationExecutor_ServerErrorRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := newHarness()
	creds := memCredentials{"tenant-1/smartstore": {Key: "tenant-1", Marketplace: "smartstore", APIKey: "k"}}
	registry := NewDefaultRegistry(Collaborators{
		Marketplace: NewHTTPMarketplace(server.URL, time.Second),
		Credentials: creds,
	})
	h.start(t, mq.QueueRegistration, registry, 1)

	job := h.enqueue(t, "tenant-1", "P1", domain.ListingRegistration{Marketplace: "smartstore", Listing: json.RawMessage(`{}`)})
	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	if calls.Load() != 2 {
		t.Errorf("5xx should be retried once, got %d calls", calls.Load())
	}
	waitFor(t, "error record", func() bool { return h.errs.Len() == 1 })
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "ошибка" — 2 байта на символ
	got := truncate("ошибка сервиса", 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if got != "ош..." {
		t.Errorf("expected %q, got %q", "ош...", got)
	}
	if truncate("ok", 5) != "ok" {
		t.Error("short string should stay unchanged")
	}
}

func TestHTTPClient_ResponseBodyLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", maxResponseBytes+4096)))
	}))
	defer server.Close()

	client := newServiceClient("translator", server.URL, time.Second)
	body, err := client.do(context.Background(), http.MethodGet, "/", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != maxResponseBytes {
		t.Errorf("expected body capped at %d bytes, got %d", maxResponseBytes, len(body))
	}
}
