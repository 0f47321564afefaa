package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/executor"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/metrics"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

var paris = clock.MustCivil(clock.DefaultZone).Location()

func at(month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(2026, month, day, hour, min, sec, 0, paris)
}

// dueAt is the 09:00 instant every test schedule is due at.
var dueAt = at(time.June, 10, 9, 0, 0)

func newSchedule(id string) *models.Schedule {
	return &models.Schedule{
		ID:          id,
		Name:        "export " + id,
		ReportType:  models.ReportSales,
		Format:      models.FormatCSV,
		Frequency:   recurrence.Daily,
		TimeOfDay:   "09:00",
		Recipients:  []string{"ops@example.com"},
		Status:      models.StatusActive,
		NextRun:     dueAt,
		EvaluatedAt: dueAt.Add(-24 * time.Hour),
		CreatedAt:   dueAt.Add(-48 * time.Hour),
		UpdatedAt:   dueAt.Add(-48 * time.Hour),
	}
}

func newTestDispatcher(t *testing.T, store storage.Store, exec executor.Executor, clk clock.Clock, mutate func(*Config)) *Dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NodeID = "test"
	if mutate != nil {
		mutate(&cfg)
	}
	calc := recurrence.NewCalculator(clock.MustCivil(clock.DefaultZone), recurrence.OverflowClamp)
	return New(store, exec, calc, clk, zerolog.Nop(), nil, cfg)
}

func seed(t *testing.T, store storage.Store, scheds ...*models.Schedule) {
	t.Helper()
	for _, s := range scheds {
		if err := store.Create(context.Background(), s); err != nil {
			t.Fatalf("Create(%s) failed: %v", s.ID, err)
		}
	}
}

func load(t *testing.T, store storage.Store, id string) *models.Schedule {
	t.Helper()
	s, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", id, err)
	}
	return s
}

// succeed returns an executor that succeeds at the mock's current time and
// counts its calls.
func succeed(mock *clock.MockClock, calls *atomic.Int32) executor.Executor {
	return executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		calls.Add(1)
		return models.Succeeded(mock.Now())
	})
}

func fail(mock *clock.MockClock, msg string) executor.Executor {
	return executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		return models.Failed(mock.Now(), errors.New(msg))
	})
}

func TestDispatcher_Success(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("s1"))

	var calls atomic.Int32
	m := metrics.New(nil)
	calc := recurrence.NewCalculator(clock.MustCivil(clock.DefaultZone), recurrence.OverflowClamp)
	d := New(store, succeed(mock, &calls), calc, mock, zerolog.Nop(), m, DefaultConfig())

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("executor called %d times, want 1", calls.Load())
	}

	got := load(t, store, "s1")
	if got.LastRun == nil || !got.LastRun.Equal(at(time.June, 10, 9, 0, 30)) {
		t.Errorf("last run = %v", got.LastRun)
	}
	if got.LastError != "" {
		t.Errorf("last error = %q", got.LastError)
	}
	if want := at(time.June, 11, 9, 0, 0); !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}
	if got.IsClaimed() || got.ClaimedAt != nil {
		t.Error("claim not released")
	}
	if got.Status != models.StatusActive {
		t.Errorf("status = %s", got.Status)
	}

	if v := testutil.ToFloat64(m.ClaimsTotal.WithLabelValues("acquired")); v != 1 {
		t.Errorf("acquired claims = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("sales", "success")); v != 1 {
		t.Errorf("successful dispatches = %v, want 1", v)
	}

	// Nothing is due any more.
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("schedule dispatched twice for one due instant")
	}
}

func TestDispatcher_FailureRetriesThenAbandons(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("s1"))

	d := newTestDispatcher(t, store, fail(mock, "smtp: connection refused"), mock, nil)
	natural := at(time.June, 11, 9, 0, 0)

	wantRetries := []time.Time{
		at(time.June, 10, 9, 1, 30),
		at(time.June, 10, 9, 3, 30),
		at(time.June, 10, 9, 7, 30),
		at(time.June, 10, 9, 15, 30),
		at(time.June, 10, 9, 31, 30),
	}

	for i, want := range wantRetries {
		if err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		got := load(t, store, "s1")

		if got.Status != models.StatusActive {
			t.Errorf("attempt %d: status = %s", i+1, got.Status)
		}
		if got.LastError != "smtp: connection refused" {
			t.Errorf("attempt %d: last error = %q", i+1, got.LastError)
		}
		if got.LastRun != nil {
			t.Errorf("attempt %d: last run set on failure", i+1)
		}
		if got.FailureCount != i+1 {
			t.Errorf("attempt %d: failure count = %d", i+1, got.FailureCount)
		}
		if !got.NextRun.Equal(want) {
			t.Errorf("attempt %d: next run = %v, want %v", i+1, got.NextRun, want)
		}
		if got.NextRun.After(natural) {
			t.Errorf("attempt %d: retry passed the next natural instant", i+1)
		}
		mock.Set(got.NextRun)
	}

	// Sixth consecutive failure gives up on the 10th.
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	got := load(t, store, "s1")
	if !got.NextRun.Equal(natural) {
		t.Errorf("next run after abandon = %v, want %v", got.NextRun, natural)
	}
	if got.FailureCount != 0 {
		t.Errorf("failure count after abandon = %d", got.FailureCount)
	}
	if got.LastError == "" {
		t.Error("last error cleared on abandon")
	}
}

func TestDispatcher_RetryCappedAtNaturalInstant(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("s1"))

	d := newTestDispatcher(t, store, fail(mock, "render failed"), mock, func(cfg *Config) {
		cfg.Retry.InitialInterval = 30 * time.Hour
		cfg.Retry.MaxInterval = 48 * time.Hour
	})

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := load(t, store, "s1")
	if want := at(time.June, 11, 9, 0, 0); !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}
	if got.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", got.FailureCount)
	}
}

func TestDispatcher_HoldMode(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("s1"))

	d := newTestDispatcher(t, store, fail(mock, "render failed"), mock, func(cfg *Config) {
		cfg.Retry.Mode = RetryHold
	})

	for i := 1; i <= 2; i++ {
		if err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		got := load(t, store, "s1")
		if !got.NextRun.Equal(dueAt) {
			t.Errorf("attempt %d: next run = %v, want unchanged %v", i, got.NextRun, dueAt)
		}
		if got.FailureCount != i {
			t.Errorf("attempt %d: failure count = %d", i, got.FailureCount)
		}
		mock.Add(15 * time.Second)
	}
}

func TestDispatcher_ExactlyOnceAcrossDispatchers(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))

	const n = 20
	for i := 0; i < n; i++ {
		seed(t, store, newSchedule(fmt.Sprintf("s%02d", i)))
	}

	var mu sync.Mutex
	executions := make(map[string]int)
	exec := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		mu.Lock()
		executions[s.ID]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return models.Succeeded(mock.Now())
	})

	wide := func(cfg *Config) { cfg.MaxWorkers = 2 * n }
	a := newTestDispatcher(t, store, exec, mock, wide)
	b := newTestDispatcher(t, store, exec, mock, wide)

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{a, b} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			if err := d.RunOnce(context.Background()); err != nil {
				t.Errorf("RunOnce failed: %v", err)
			}
		}(d)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%02d", i)
		if executions[id] != 1 {
			t.Errorf("%s executed %d times, want 1", id, executions[id])
		}
		got := load(t, store, id)
		if want := at(time.June, 11, 9, 0, 0); !got.NextRun.Equal(want) {
			t.Errorf("%s next run = %v", id, got.NextRun)
		}
		if got.IsClaimed() {
			t.Errorf("%s left claimed", id)
		}
	}
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("boom"), newSchedule("fine"))

	exec := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		if s.ID == "boom" {
			panic("nil data source")
		}
		return models.Succeeded(mock.Now())
	})
	d := newTestDispatcher(t, store, exec, mock, nil)

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	boom := load(t, store, "boom")
	if !strings.Contains(boom.LastError, "panic") {
		t.Errorf("last error = %q, want panic message", boom.LastError)
	}
	if boom.FailureCount != 1 || boom.IsClaimed() {
		t.Errorf("panicking schedule not committed: %+v", boom)
	}

	fine := load(t, store, "fine")
	if fine.LastRun == nil || fine.LastError != "" {
		t.Errorf("healthy schedule affected by panic: %+v", fine)
	}
}

func TestDispatcher_ReclaimsStaleClaim(t *testing.T) {
	store := storage.NewMemoryStore()
	claimedAt := at(time.June, 10, 9, 0, 10)
	mock := clock.NewMock(claimedAt)
	seed(t, store, newSchedule("s1"))

	ctx := context.Background()
	if _, outcome, err := store.Claim(ctx, "s1", "crashed-node", claimedAt, DefaultConfig().Lease); err != nil || !outcome.Held() {
		t.Fatalf("setup claim failed: %v %v", outcome, err)
	}

	var calls atomic.Int32
	d := newTestDispatcher(t, store, succeed(mock, &calls), mock, nil)

	// Within the lease the claim is respected.
	mock.Add(5 * time.Minute)
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("executed a schedule held by another dispatcher")
	}
	if got := load(t, store, "s1"); got.ProcessingToken != "crashed-node" {
		t.Errorf("live claim overwritten: %q", got.ProcessingToken)
	}

	// Past the lease the interrupted run is recorded as a failure.
	mock.Set(claimedAt.Add(DefaultConfig().Lease))
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 0 {
		t.Error("reclaimed schedule executed in the same cycle")
	}

	got := load(t, store, "s1")
	if got.LastError != ErrInterrupted.Error() {
		t.Errorf("last error = %q", got.LastError)
	}
	if got.FailureCount != 1 {
		t.Errorf("failure count = %d", got.FailureCount)
	}
	if got.IsClaimed() {
		t.Error("reclaimed claim not released")
	}
	if want := mock.Now().Add(time.Minute); !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}

	// The retry runs normally.
	mock.Set(got.NextRun)
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("retry executed %d times, want 1", calls.Load())
	}
	if got := load(t, store, "s1"); got.FailureCount != 0 || got.LastError != "" {
		t.Errorf("success did not reset failure state: %+v", got)
	}
}

func TestDispatcher_DropsResultAfterClaimLost(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("s1"))

	started := make(chan struct{})
	release := make(chan struct{})
	var slowCalls atomic.Int32
	slow := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		slowCalls.Add(1)
		close(started)
		<-release
		return models.Succeeded(mock.Now())
	})

	a := newTestDispatcher(t, store, slow, mock, nil)
	workers, err := a.cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	<-started

	mock.Add(DefaultConfig().Lease + time.Minute)

	// The owning process never races itself, even once the lease expired.
	again, err := a.cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	again.Wait()
	if slowCalls.Load() != 1 {
		t.Fatalf("schedule ran concurrently with itself")
	}

	var otherCalls atomic.Int32
	b := newTestDispatcher(t, store, succeed(mock, &otherCalls), mock, nil)
	if err := b.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	close(release)
	workers.Wait()

	got := load(t, store, "s1")
	if got.LastRun != nil {
		t.Errorf("late result was committed: last run %v", got.LastRun)
	}
	if got.LastError != ErrInterrupted.Error() {
		t.Errorf("last error = %q", got.LastError)
	}
	if got.IsClaimed() {
		t.Error("schedule left claimed")
	}
}

func TestDispatcher_ClockStepBack(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 10, 0, 0))

	var calls atomic.Int32
	exec := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		calls.Add(1)
		return models.DueJobResult{Success: true}
	})
	d := newTestDispatcher(t, store, exec, mock, nil)

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	s := newSchedule("s1")
	s.NextRun = at(time.June, 10, 9, 30, 0)
	seed(t, store, s)

	// Wall clock jumps back an hour; the dispatcher keeps its latest reading.
	mock.Set(at(time.June, 10, 9, 0, 0))
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("due schedule not dispatched after clock step back")
	}

	got := load(t, store, "s1")
	if got.LastRun == nil || !got.LastRun.Equal(at(time.June, 10, 10, 0, 0)) {
		t.Errorf("last run = %v, want monotonic 10:00", got.LastRun)
	}
	if want := at(time.June, 11, 9, 0, 0); !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}
}

func TestDispatcher_NeverEvaluatesBeforePreviousEvaluation(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))

	s := newSchedule("s1")
	s.EvaluatedAt = at(time.June, 11, 9, 30, 0)
	seed(t, store, s)

	var calls atomic.Int32
	d := newTestDispatcher(t, store, succeed(mock, &calls), mock, nil)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := load(t, store, "s1")
	if want := at(time.June, 12, 9, 0, 0); !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}
	if !got.EvaluatedAt.Equal(s.EvaluatedAt) {
		t.Errorf("evaluated at moved backwards: %v", got.EvaluatedAt)
	}
}

func TestDispatcher_CalculationErrorKeepsNextRun(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))

	s := newSchedule("s1")
	s.TimeOfDay = "25:99"
	seed(t, store, s)

	var calls atomic.Int32
	d := newTestDispatcher(t, store, succeed(mock, &calls), mock, nil)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := load(t, store, "s1")
	if got.Status != models.StatusActive {
		t.Errorf("status = %s", got.Status)
	}
	if !got.NextRun.Equal(dueAt) {
		t.Errorf("next run = %v, want unchanged %v", got.NextRun, dueAt)
	}
	if got.LastRun == nil {
		t.Error("successful run not recorded")
	}
	if got.IsClaimed() {
		t.Error("claim not released")
	}
}

func TestDispatcher_SkipsInactiveAndContended(t *testing.T) {
	store := storage.NewMemoryStore()
	now := at(time.June, 10, 9, 0, 30)
	mock := clock.NewMock(now)

	paused := newSchedule("paused")
	paused.Status = models.StatusPaused
	completed := newSchedule("completed")
	completed.Status = models.StatusCompleted
	future := newSchedule("future")
	future.NextRun = at(time.June, 10, 9, 5, 0)
	seed(t, store, paused, completed, future, newSchedule("held"))

	if _, _, err := store.Claim(context.Background(), "held", "other-node", now, time.Hour); err != nil {
		t.Fatalf("setup claim failed: %v", err)
	}

	var calls atomic.Int32
	d := newTestDispatcher(t, store, succeed(mock, &calls), mock, nil)
	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("executor called %d times, want 0", calls.Load())
	}
}

func TestDispatcher_WorkerPoolBound(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 9, 0, 30))
	seed(t, store, newSchedule("a"), newSchedule("b"), newSchedule("c"))

	release := make(chan struct{})
	var calls atomic.Int32
	exec := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		calls.Add(1)
		<-release
		return models.Succeeded(mock.Now())
	})

	d := newTestDispatcher(t, store, exec, mock, func(cfg *Config) { cfg.MaxWorkers = 1 })
	workers, err := d.cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	claimed := 0
	all, _ := store.List(context.Background())
	for _, s := range all {
		if s.IsClaimed() {
			claimed++
		}
	}
	if claimed != 1 {
		t.Errorf("claimed %d schedules with one worker, want 1", claimed)
	}

	close(release)
	workers.Wait()

	// The deferred schedules are picked up by the following cycles.
	for i := 0; i < 2; i++ {
		if err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("executor called %d times, want 3", calls.Load())
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	store := storage.NewMemoryStore()
	mock := clock.NewMock(at(time.June, 10, 8, 59, 50))
	seed(t, store, newSchedule("s1"))

	done := make(chan struct{}, 1)
	exec := executor.Func(func(ctx context.Context, s *models.Schedule) models.DueJobResult {
		done <- struct{}{}
		return models.Succeeded(mock.Now())
	})

	d := newTestDispatcher(t, store, exec, mock, func(cfg *Config) { cfg.PollInterval = 15 * time.Second })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: expected ErrAlreadyStarted, got %v", err)
	}

	// Give the initial cycle a chance to run before the schedule is due.
	time.Sleep(20 * time.Millisecond)
	mock.Add(15 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule not dispatched after poll interval")
	}

	d.Stop()
	d.Stop()

	got := load(t, store, "s1")
	if got.LastRun == nil {
		t.Error("result not committed before Stop returned")
	}
}
