package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Sourcing/internal/admission"
	"github.com/shaiso/Sourcing/internal/telemetry"
)

type fakeLeases struct {
	calls   atomic.Int32
	expired int64
	err     error
}

func (f *fakeLeases) DeleteExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.expired, f.err
}

func TestValidateSpec(t *testing.T) {
	valid := []string{"@every 5m", "*/5 * * * *", "@hourly", "0 3 * * 1"}
	for _, spec := range valid {
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("%q should be valid: %v", spec, err)
		}
	}

	invalid := []string{"", "every 5m", "* * *", "@every banana"}
	for _, spec := range invalid {
		if err := ValidateSpec(spec); err == nil {
			t.Errorf("%q should be invalid", spec)
		}
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2025, 1, 1, 10, 2, 0, 0, time.UTC)

	next, err := NextRun("*/5 * * * *", from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	if _, err := New(Config{Spec: "not a spec"}); err == nil {
		t.Error("expected error for invalid spec")
	}
}

func TestJanitor_Tick(t *testing.T) {
	clock := admission.NewManualClock(time.Now())
	ctrl := admission.New(admission.Config{Clock: clock, Expiry: time.Minute})

	// stale — освобождён и устарел; busy — в работе
	ctrl.TryAdmit("stale")
	ctrl.Release("stale")
	ctrl.TryAdmit("busy")
	clock.Advance(2 * time.Minute)

	leases := &fakeLeases{expired: 3}
	j, err := New(Config{
		Admission: ctrl,
		Leases:    leases,
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}

	if err := j.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, ok := ctrl.State("stale"); ok {
		t.Error("stale entry should be purged")
	}
	if _, ok := ctrl.State("busy"); !ok {
		t.Error("in-flight entry must survive purge")
	}
	if leases.calls.Load() != 1 {
		t.Errorf("expected one DeleteExpired call, got %d", leases.calls.Load())
	}
}

func TestJanitor_TickLeaseError(t *testing.T) {
	ctrl := admission.New(admission.Config{})
	leases := &fakeLeases{err: errors.New("db down")}

	j, _ := New(Config{Admission: ctrl, Leases: leases})
	if err := j.Tick(context.Background()); err == nil {
		t.Error("expected error from lease cleanup")
	}
}

func TestJanitor_StartStop(t *testing.T) {
	leases := &fakeLeases{}
	j, err := New(Config{Leases: leases, Spec: "@every 1s"})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for leases.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()

	if leases.calls.Load() == 0 {
		t.Fatal("janitor never ticked")
	}

	after := leases.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if leases.calls.Load() != after {
		t.Error("janitor ticked after Stop")
	}

	// Повторный Stop безопасен
	j.Stop()
}
