package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sourcing/internal/admission"
	"github.com/shaiso/Sourcing/internal/aggregator"
	"github.com/shaiso/Sourcing/internal/domain"
	"github.com/shaiso/Sourcing/internal/mq"
	"github.com/shaiso/Sourcing/internal/repo"
)

// --- Fakes ---

type executorFunc func(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error)

func (f executorFunc) Execute(ctx context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error) {
	return f(ctx, job, task)
}

type memAttempts struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]domain.RegistrationAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: make(map[uuid.UUID]domain.RegistrationAttempt)}
}

func (m *memAttempts) Begin(_ context.Context, a *domain.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = *a
	return nil
}

func (m *memAttempts) Finish(_ context.Context, a *domain.RegistrationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.attempts[a.ID]; !ok || cur.Status != domain.AttemptStatusPending {
		return repo.ErrInvalidState
	}
	m.attempts[a.ID] = *a
	return nil
}

func (m *memAttempts) byJob(jobID uuid.UUID) (domain.RegistrationAttempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.JobID == jobID {
			return a, true
		}
	}
	return domain.RegistrationAttempt{}, false
}

type memErrors struct {
	mu      sync.Mutex
	records []domain.ErrorRecord
}

func (m *memErrors) Append(_ context.Context, rec *domain.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memErrors) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memErrors) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Message
	}
	return out
}

// reporterFunc позволяет подменить агрегатор в тестах.
type reporterFunc func(ctx context.Context, c domain.Completion) (*aggregator.Result, error)

func (f reporterFunc) Report(ctx context.Context, c domain.Completion) (*aggregator.Result, error) {
	return f(ctx, c)
}

// --- Harness ---

type harness struct {
	jobs     *mq.MemoryQueue
	store    *aggregator.MemoryStore
	agg      *aggregator.Aggregator
	attempts *memAttempts
	errs     *memErrors
	adm      *admission.Controller

	// reporter заменяет agg, если задан.
	reporter Reporter
}

func newHarness() *harness {
	store := aggregator.NewMemoryStore()
	return &harness{
		jobs:     mq.NewMemoryQueue(),
		store:    store,
		agg:      aggregator.New(aggregator.Config{Store: store}),
		attempts: newMemAttempts(),
		errs:     &memErrors{},
		adm:      admission.New(admission.Config{MinInterval: -1}),
	}
}

func (h *harness) start(t *testing.T, queue mq.Queue, registry *Registry, maxConcurrency int) *Worker {
	t.Helper()
	var reporter Reporter = h.agg
	if h.reporter != nil {
		reporter = h.reporter
	}
	w := New(Config{
		Queue:          queue,
		Jobs:           h.jobs,
		Admitter:       h.adm,
		Registry:       registry,
		Reporter:       reporter,
		Attempts:       h.attempts,
		Errors:         h.errs,
		MaxConcurrency: maxConcurrency,
		PollInterval:   5 * time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func (h *harness) enqueue(t *testing.T, key, entityID string, task domain.Task) domain.Job {
	t.Helper()
	job, err := domain.NewJob(key, entityID, task)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := h.jobs.Enqueue(context.Background(), mq.QueueFor(job.Kind), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func (h *harness) createEntity(t *testing.T, key, entityID string, tasks []domain.Task) {
	t.Helper()
	if err := h.store.CreateEntity(context.Background(), domain.NewEntityState(key, entityID, tasks)); err != nil {
		t.Fatalf("create entity: %v", err)
	}
	for _, task := range tasks {
		h.enqueue(t, key, entityID, task)
	}
}

func (h *harness) entityStatus(entityID string) domain.EntityStatus {
	state, err := h.store.GetEntity(context.Background(), entityID)
	if err != nil {
		return ""
	}
	return state.Status
}

// waitFor ждёт выполнения условия.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func translationRegistry(exec Executor) *Registry {
	r := NewRegistry()
	r.Register(domain.TaskKindTranslateAttribute, exec)
	r.Register(domain.TaskKindTranslateOption, exec)
	r.Register(domain.TaskKindGenerateSEO, exec)
	return r
}

func okExecutor() Executor {
	return executorFunc(func(context.Context, *domain.Job, domain.Task) (*ExecutionResult, error) {
		return &ExecutionResult{Output: json.RawMessage(`{"ok":true}`)}, nil
	})
}

// --- Worker Loop Tests ---

func TestWorker_FanInExample(t *testing.T) {
	h := newHarness()
	h.start(t, mq.QueueTranslation, translationRegistry(okExecutor()), 4)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{
		domain.AttributeTranslation{},
		domain.OptionTranslation{OptionName: "A"},
		domain.OptionTranslation{OptionName: "B"},
		domain.SEOGeneration{},
	})

	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if status := h.entityStatus("P1"); status != domain.EntityStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", status)
	}
}

func TestWorker_FailureStillCounts(t *testing.T) {
	h := newHarness()
	exec := executorFunc(func(_ context.Context, job *domain.Job, _ domain.Task) (*ExecutionResult, error) {
		if job.Kind == domain.TaskKindGenerateSEO {
			return &ExecutionResult{Error: "translator rejected title"}, nil
		}
		return &ExecutionResult{}, nil
	})
	h.start(t, mq.QueueTranslation, translationRegistry(exec), 4)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{
		domain.AttributeTranslation{},
		domain.OptionTranslation{OptionName: "A"},
		domain.OptionTranslation{OptionName: "B"},
		domain.SEOGeneration{},
	})

	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if status := h.entityStatus("P1"); status != domain.EntityStatusDegraded {
		t.Errorf("expected DEGRADED, got %s", status)
	}
	records := h.store.ErrorRecords("P1")
	if len(records) != 1 || records[0].Message != "translator rejected title" {
		t.Errorf("expected one error record, got %+v", records)
	}
}

func TestWorker_PerKeySerialization(t *testing.T) {
	h := newHarness()

	var mu sync.Mutex
	inFlight := make(map[string]int)
	var violations, done atomic.Int32

	exec := executorFunc(func(_ context.Context, job *domain.Job, _ domain.Task) (*ExecutionResult, error) {
		mu.Lock()
		inFlight[job.Key]++
		if inFlight[job.Key] > 1 {
			violations.Add(1)
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inFlight[job.Key]--
		mu.Unlock()
		done.Add(1)
		return &ExecutionResult{}, nil
	})

	var tasks []domain.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, domain.SEOGeneration{Title: fmt.Sprintf("t%d", i)})
	}
	// Три тенанта, по 10 под-задач
	for _, key := range []string{"A", "B", "C"} {
		h.createEntity(t, key, "P-"+key, tasks)
	}

	h.start(t, mq.QueueTranslation, translationRegistry(exec), 4)

	waitFor(t, "all jobs done", func() bool { return done.Load() == 30 })

	if violations.Load() != 0 {
		t.Errorf("jobs with the same key ran concurrently %d times", violations.Load())
	}
	for _, key := range []string{"A", "B", "C"} {
		waitFor(t, "entity "+key+" finalized", func() bool { return h.entityStatus("P-"+key).IsTerminal() })
	}
}

func TestWorker_StarvationFreedom(t *testing.T) {
	h := newHarness()

	var processed sync.Map
	exec := executorFunc(func(_ context.Context, job *domain.Job, _ domain.Task) (*ExecutionResult, error) {
		processed.Store(job.Key, true)
		return &ExecutionResult{}, nil
	})

	// Ключ A занят «другим воркером»
	if !h.adm.TryAdmit("A") {
		t.Fatal("failed to occupy key A")
	}

	h.createEntity(t, "A", "PA", []domain.Task{domain.SEOGeneration{}, domain.SEOGeneration{}})
	h.createEntity(t, "B", "PB", []domain.Task{domain.SEOGeneration{}})

	h.start(t, mq.QueueTranslation, translationRegistry(exec), 2)

	waitFor(t, "B processed behind A", func() bool { return h.entityStatus("PB").IsTerminal() })

	if _, ok := processed.Load("A"); ok {
		t.Fatal("A must not run while its key is in flight")
	}

	h.adm.Release("A")
	waitFor(t, "A processed after release", func() bool { return h.entityStatus("PA").IsTerminal() })
}

func TestWorker_InfrastructureErrorRetriedOnce(t *testing.T) {
	h := newHarness()

	var calls atomic.Int32
	exec := executorFunc(func(context.Context, *domain.Job, domain.Task) (*ExecutionResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return &ExecutionResult{}, nil
	})
	h.start(t, mq.QueueTranslation, translationRegistry(exec), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{}})
	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
	if status := h.entityStatus("P1"); status != domain.EntityStatusSucceeded {
		t.Errorf("retry succeeded, expected SUCCEEDED, got %s", status)
	}
}

func TestWorker_InfrastructureErrorTwiceFails(t *testing.T) {
	h := newHarness()

	var calls atomic.Int32
	exec := executorFunc(func(context.Context, *domain.Job, domain.Task) (*ExecutionResult, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	h.start(t, mq.QueueTranslation, translationRegistry(exec), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{}})
	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls.Load())
	}
	if status := h.entityStatus("P1"); status != domain.EntityStatusDegraded {
		t.Errorf("expected DEGRADED, got %s", status)
	}
}

func TestWorker_PanicRecovered(t *testing.T) {
	h := newHarness()

	var calls atomic.Int32
	exec := executorFunc(func(_ context.Context, job *domain.Job, task domain.Task) (*ExecutionResult, error) {
		calls.Add(1)
		if seo, ok := task.(*domain.SEOGeneration); ok && seo.Title == "boom" {
			panic("nil map write")
		}
		return &ExecutionResult{}, nil
	})
	h.start(t, mq.QueueTranslation, translationRegistry(exec), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{Title: "boom"}})
	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if status := h.entityStatus("P1"); status != domain.EntityStatusDegraded {
		t.Errorf("panic should count as failure, got %s", status)
	}

	// Ключ освобождён — следующая сущность того же тенанта выполняется
	h.createEntity(t, "tenant-1", "P2", []domain.Task{domain.SEOGeneration{Title: "fine"}})
	waitFor(t, "P2 finalized", func() bool { return h.entityStatus("P2") == domain.EntityStatusSucceeded })

	if calls.Load() != 2 {
		t.Errorf("panic must not be retried, expected 2 calls total, got %d", calls.Load())
	}
}

func TestWorker_ReporterPanicDoesNotStopLoop(t *testing.T) {
	h := newHarness()

	var calls atomic.Int32
	h.reporter = reporterFunc(func(ctx context.Context, c domain.Completion) (*aggregator.Result, error) {
		if calls.Add(1) == 1 {
			panic("reporter exploded")
		}
		return h.agg.Report(ctx, c)
	})
	h.start(t, mq.QueueTranslation, translationRegistry(okExecutor()), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{Title: "first"}})
	h.createEntity(t, "tenant-1", "P2", []domain.Task{domain.SEOGeneration{Title: "second"}})

	waitFor(t, "P2 finalized", func() bool { return h.entityStatus("P2") == domain.EntityStatusSucceeded })

	if status := h.entityStatus("P1"); status != domain.EntityStatusPending {
		t.Errorf("completion lost to panic should leave P1 PENDING, got %s", status)
	}
	msgs := h.errs.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "reporter exploded") {
		t.Errorf("expected panic in error log, got %v", msgs)
	}
}

func TestWorker_ReportFailureLogged(t *testing.T) {
	h := newHarness()
	h.reporter = reporterFunc(func(context.Context, domain.Completion) (*aggregator.Result, error) {
		return nil, errors.New("database is down")
	})
	h.start(t, mq.QueueTranslation, translationRegistry(okExecutor()), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{Title: "x"}})

	waitFor(t, "error record", func() bool { return h.errs.Len() == 1 })

	msgs := h.errs.messages()
	if !strings.Contains(msgs[0], "report completion") || !strings.Contains(msgs[0], "database is down") {
		t.Errorf("unexpected error record %q", msgs[0])
	}
}

func TestWorker_UnknownKindFails(t *testing.T) {
	h := newHarness()
	// Реестр без generate_seo
	registry := NewRegistry()
	registry.Register(domain.TaskKindTranslateAttribute, okExecutor())
	h.start(t, mq.QueueTranslation, registry, 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{}})
	waitFor(t, "P1 finalized", func() bool { return h.entityStatus("P1").IsTerminal() })

	if status := h.entityStatus("P1"); status != domain.EntityStatusDegraded {
		t.Errorf("expected DEGRADED, got %s", status)
	}
}

func TestWorker_StopWaitsForInFlight(t *testing.T) {
	h := newHarness()

	started := make(chan struct{})
	release := make(chan struct{})
	exec := executorFunc(func(context.Context, *domain.Job, domain.Task) (*ExecutionResult, error) {
		close(started)
		<-release
		return &ExecutionResult{}, nil
	})

	w := New(Config{
		Queue:    mq.QueueTranslation,
		Jobs:     h.jobs,
		Admitter: h.adm,
		Registry: translationRegistry(exec),
		Reporter: h.agg,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{}})
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after job finished")
	}

	// Отчёт сделан после отмены цикла
	if status := h.entityStatus("P1"); status != domain.EntityStatusSucceeded {
		t.Errorf("in-flight job should complete and report, got %s", status)
	}
	if !w.IsStopped() {
		t.Error("worker should be stopped")
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("restart should fail with ErrWorkerStopped, got %v", err)
	}
}

func TestWorker_RateLimitedKeyIsRequeued(t *testing.T) {
	h := newHarness()
	clock := admission.NewManualClock(time.Now())
	h.adm = admission.New(admission.Config{MinInterval: 500 * time.Millisecond, Clock: clock})

	var done atomic.Int32
	exec := executorFunc(func(context.Context, *domain.Job, domain.Task) (*ExecutionResult, error) {
		done.Add(1)
		return &ExecutionResult{}, nil
	})
	h.start(t, mq.QueueTranslation, translationRegistry(exec), 1)

	h.createEntity(t, "tenant-1", "P1", []domain.Task{domain.SEOGeneration{}, domain.SEOGeneration{}})

	waitFor(t, "first job", func() bool { return done.Load() == 1 })

	// Второй job ждёт, пока не пройдёт интервал
	time.Sleep(30 * time.Millisecond)
	if done.Load() != 1 {
		t.Fatalf("second job ran inside min interval")
	}
	clock.Advance(500 * time.Millisecond)
	waitFor(t, "second job after interval", func() bool { return done.Load() == 2 })
}

// --- Single-job Tests ---

type memCredentials map[string]*domain.Credential

func (m memCredentials) Get(_ context.Context, key, marketplace string) (*domain.Credential, error) {
	cred, ok := m[key+"/"+marketplace]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cred, nil
}

type marketplaceFunc func(ctx context.Context, cred *domain.Credential, listing json.RawMessage) (*RegistrationResponse, error)

func (f marketplaceFunc) Register(ctx context.Context, cred *domain.Credential, listing json.RawMessage) (*RegistrationResponse, error) {
	return f(ctx, cred, listing)
}

func TestWorker_RegistrationSuccess(t *testing.T) {
	h := newHarness()
	creds := memCredentials{"tenant-1/smartstore": {Key: "tenant-1", Marketplace: "smartstore", APIKey: "secret"}}
	market := marketplaceFunc(func(_ context.Context, cred *domain.Credential, _ json.RawMessage) (*RegistrationResponse, error) {
		if cred.APIKey != "secret" {
			t.Errorf("unexpected api key %q", cred.APIKey)
		}
		return &RegistrationResponse{Result: "success", ProductNo: "1001", Raw: json.RawMessage(`{"result":"success","product_no":"1001"}`)}, nil
	})

	registry := NewDefaultRegistry(Collaborators{Marketplace: market, Credentials: creds})
	h.start(t, mq.QueueRegistration, registry, 1)

	job := h.enqueue(t, "tenant-1", "P1", domain.ListingRegistration{Marketplace: "smartstore", Listing: json.RawMessage(`{"name":"shirt"}`)})

	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	a, _ := h.attempts.byJob(job.ID)
	if a.Status != domain.AttemptStatusSuccess {
		t.Errorf("expected success, got %s (%s)", a.Status, a.FailureReason)
	}
	if h.errs.Len() != 0 {
		t.Errorf("success must not append error records")
	}
}

func TestWorker_RegistrationMissingCredential(t *testing.T) {
	h := newHarness()

	var calls atomic.Int32
	market := marketplaceFunc(func(context.Context, *domain.Credential, json.RawMessage) (*RegistrationResponse, error) {
		calls.Add(1)
		return &RegistrationResponse{Result: "success", ProductNo: "1"}, nil
	})

	registry := NewDefaultRegistry(Collaborators{Marketplace: market, Credentials: memCredentials{}})
	h.start(t, mq.QueueRegistration, registry, 1)

	job := h.enqueue(t, "tenant-1", "P1", domain.ListingRegistration{Marketplace: "smartstore"})

	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	a, _ := h.attempts.byJob(job.ID)
	if a.Status != domain.AttemptStatusFail {
		t.Errorf("expected fail, got %s", a.Status)
	}
	if calls.Load() != 0 {
		t.Errorf("marketplace must not be called without credential")
	}
	waitFor(t, "error record", func() bool { return h.errs.Len() == 1 })
}

func TestWorker_RegistrationUnrecognizedResponse(t *testing.T) {
	h := newHarness()
	creds := memCredentials{"tenant-1/smartstore": {Key: "tenant-1", Marketplace: "smartstore", APIKey: "k"}}
	market := marketplaceFunc(func(context.Context, *domain.Credential, json.RawMessage) (*RegistrationResponse, error) {
		return &RegistrationResponse{Result: "queued"}, nil
	})

	h.start(t, mq.QueueRegistration, NewDefaultRegistry(Collaborators{Marketplace: market, Credentials: creds}), 1)
	job := h.enqueue(t, "tenant-1", "P1", domain.ListingRegistration{Marketplace: "smartstore"})

	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	a, _ := h.attempts.byJob(job.ID)
	if a.Status != domain.AttemptStatusFail {
		t.Errorf("unrecognized 2xx must be fail, got %s", a.Status)
	}
}

func TestWorker_SourcingStatus(t *testing.T) {
	h := newHarness()
	checker := &fakeChecker{out: json.RawMessage(`{"in_stock":true}`)}

	h.start(t, mq.QueueSourcingStatus, NewDefaultRegistry(Collaborators{Sourcing: checker}), 1)
	job := h.enqueue(t, "tenant-1", "P1", domain.SourcingStatusUpdate{SourceURL: "https://supplier.example/item/1"})

	waitFor(t, "attempt finished", func() bool {
		a, ok := h.attempts.byJob(job.ID)
		return ok && a.Status.IsTerminal()
	})

	a, _ := h.attempts.byJob(job.ID)
	if a.Status != domain.AttemptStatusSuccess {
		t.Errorf("expected success, got %s", a.Status)
	}
	if string(a.ResultPayload) != `{"in_stock":true}` {
		t.Errorf("unexpected result payload %s", a.ResultPayload)
	}
	if checker.lastURL() != "https://supplier.example/item/1" {
		t.Errorf("unexpected url %q", checker.lastURL())
	}
}

type fakeChecker struct {
	mu  sync.Mutex
	url string
	out json.RawMessage
}

func (c *fakeChecker) Check(_ context.Context, _ string, sourceURL string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = sourceURL
	return c.out, nil
}

func (c *fakeChecker) lastURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}
