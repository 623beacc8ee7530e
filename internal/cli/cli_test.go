package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func runCmd(t *testing.T, srv *httptest.Server, jsonMode bool, stdin string, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := NewEntityCmd(clientFn, outputFn)
	if args[0] == "job" {
		root = NewJobCmd(clientFn, outputFn)
	}
	root.SetArgs(args[1:])
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	return stdout.String(), err
}

func TestEntityDispatch_FromStdin(t *testing.T) {
	var got DispatchRequest
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/entities" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"entity_id":"P1","status":"PENDING","jobs":["a","b"],"failed":0}}`))
	})

	tasks := `[{"task_kind":"generate_seo","payload":{"title":"x"}},{"task_kind":"translate_option"}]`
	out, err := runCmd(t, srv, false, tasks, "entity", "dispatch", "P1", "--key", "tenant-1", "--tasks-file", "-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Key != "tenant-1" || got.EntityID != "P1" || len(got.Tasks) != 2 {
		t.Errorf("unexpected request body: %+v", got)
	}
	if !strings.Contains(out, "PENDING") {
		t.Errorf("table output should contain status, got:\n%s", out)
	}
}

func TestEntityDispatch_FromFile(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"entity_id":"P1","status":"PENDING","jobs":["a"],"failed":0}}`))
	})

	path := filepath.Join(t.TempDir(), "tasks.json")
	os.WriteFile(path, []byte(`[{"task_kind":"generate_seo"}]`), 0o644)

	if _, err := runCmd(t, srv, false, "", "entity", "dispatch", "P1", "--key", "k", "--tasks-file", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEntityDispatch_InvalidTasks(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	_, err := runCmd(t, srv, false, `{"task_kind":"generate_seo"}`, "entity", "dispatch", "P1", "--key", "k", "--tasks-file", "-")
	if err == nil {
		t.Fatal("expected error for non-array tasks")
	}
}

func TestEntityShow_JSON(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/entities/P1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"entity_id":"P1","key":"k","status":"DEGRADED","degraded":true,"remaining":{"overall":0,"option":0}}}`))
	})

	out, err := runCmd(t, srv, true, "", "entity", "show", "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entity EntityResponse
	if err := json.Unmarshal([]byte(out), &entity); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if entity.Status != "DEGRADED" || !entity.Degraded {
		t.Errorf("unexpected entity: %+v", entity)
	}
}

func TestEntityShow_APIError(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"entity not found"}}`))
	})

	_, err := runCmd(t, srv, false, "", "entity", "show", "missing")
	if err == nil || err.Error() != "NOT_FOUND: entity not found" {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestEntityErrors_Table(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"e1","task_kind":"generate_seo","message":"translator returned 500","created_at":"now"}],"total":1}`))
	})

	out, err := runCmd(t, srv, false, "", "entity", "errors", "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "translator returned 500") || !strings.Contains(out, "TASK_KIND") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestJobSubmit(t *testing.T) {
	var got SubmitRequest
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"data":{"id":"j1","entity_id":"P9","task_kind":"register_listing"}}`))
	})

	_, err := runCmd(t, srv, false, "", "job", "submit", "P9",
		"--key", "k", "--kind", "register_listing", "--payload", `{"marketplace":"smartstore"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != "register_listing" || string(got.Payload) != `{"marketplace":"smartstore"}` {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestJobSubmit_InvalidPayload(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	_, err := runCmd(t, srv, false, "", "job", "submit", "P9", "--key", "k", "--kind", "register_listing", "--payload", "{")
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestEntityDispatch_ForceFlag(t *testing.T) {
	var got DispatchRequest
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"entity_id":"P1","status":"PENDING","jobs":["a"],"failed":0}}`))
	})

	tasks := `[{"task_kind":"generate_seo"}]`
	if _, err := runCmd(t, srv, false, tasks, "entity", "dispatch", "P1", "--key", "tenant-1", "--tasks-file", "-", "--force"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Force {
		t.Error("--force should be sent in request body")
	}
}

func TestFormatCounters(t *testing.T) {
	got := formatCounters(map[string]int{"overall": 2, "option": 1}, map[string]int{"overall": 2, "option": 2})
	if got != "option=1/2,overall=2/2" {
		t.Errorf("unexpected format %q", got)
	}

	got = formatCounters(map[string]int{"overall": 0}, nil)
	if got != "overall=0" {
		t.Errorf("unexpected format without initial %q", got)
	}
}

func TestOutput_EntityDegradedPending(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(false, &stdout, &stderr)

	out.Entity(&EntityResponse{
		EntityID:  "P1",
		Key:       "tenant-1",
		Status:    "PENDING",
		Degraded:  true,
		Remaining: map[string]int{"overall": 1},
		Initial:   map[string]int{"overall": 3},
	})

	got := stdout.String()
	if !strings.Contains(got, "PENDING (degraded)") || !strings.Contains(got, "overall=1/3") {
		t.Errorf("unexpected entity row:\n%s", got)
	}
}

func TestOutput_AttemptsDetail(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(false, &stdout, &stderr)

	out.Attempts([]AttemptResponse{
		{ID: "a1", Kind: "register_listing", Status: "success", ResultPayload: json.RawMessage(`{"listing_id":"L1"}`)},
		{ID: "a2", Kind: "register_listing", Status: "fail", FailureReason: "credentials missing"},
	})

	got := stdout.String()
	if !strings.Contains(got, `{"listing_id":"L1"}`) {
		t.Errorf("success row should show result payload:\n%s", got)
	}
	if !strings.Contains(got, "credentials missing") {
		t.Errorf("fail row should show failure reason:\n%s", got)
	}
}

func TestOutput_DispatchedJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(true, &stdout, &stderr)

	out.Dispatched(&DispatchResponse{EntityID: "P1", Status: "PENDING", Jobs: []string{"j1"}, Failed: 1})

	var got DispatchResponse
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if got.Failed != 1 || got.EntityID != "P1" {
		t.Errorf("unexpected JSON output: %+v", got)
	}
	if !strings.Contains(stderr.String(), "1 failed to enqueue") {
		t.Errorf("notice should go to stderr, got %q", stderr.String())
	}
}
