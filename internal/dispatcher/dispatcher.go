// Package dispatcher polls the schedule store, claims due schedules, runs
// them through the report executor and commits each outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/executor"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/metrics"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/storage"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/tracing"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

// ErrInterrupted is recorded when a stale claim is taken over.
var ErrInterrupted = errors.New("previous dispatch interrupted")

// ErrAlreadyStarted is returned by Start on a running dispatcher.
var ErrAlreadyStarted = errors.New("dispatcher already started")

// Config holds dispatcher configuration.
type Config struct {
	NodeID        string
	PollInterval  time.Duration
	Lease         time.Duration
	MaxWorkers    int
	CommitTimeout time.Duration
	Retry         RetryPolicy
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:        "exportd",
		PollInterval:  15 * time.Second,
		Lease:         15 * time.Minute,
		MaxWorkers:    4,
		CommitTimeout: 10 * time.Second,
		Retry:         DefaultRetryPolicy(),
	}
}

// Dispatcher runs dispatch cycles on a fixed poll interval.
type Dispatcher struct {
	store   storage.Store
	exec    executor.Executor
	calc    *recurrence.Calculator
	clock   *clock.Monotonic
	logger  zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config

	sem *semaphore.Weighted

	// Schedules executing in this process.
	inflight   map[string]struct{}
	inflightMu sync.Mutex

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex
	wg       sync.WaitGroup
}

// New creates a Dispatcher. clk is wrapped in a monotonic guard unless it
// already is one. m may be nil.
func New(store storage.Store, exec executor.Executor, calc *recurrence.Calculator, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = def.CommitTimeout
	}
	if cfg.Retry.Mode == "" {
		cfg.Retry = def.Retry
	}

	mono, ok := clk.(*clock.Monotonic)
	if !ok {
		mono = clock.NewMonotonic(clk)
	}

	return &Dispatcher{
		store:    store,
		exec:     exec,
		calc:     calc,
		clock:    mono,
		logger:   logger.With().Str("component", "dispatcher").Str("node_id", cfg.NodeID).Logger(),
		metrics:  m,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		inflight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start runs a first cycle immediately, then one per poll interval, until ctx
// is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	d.logger.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Dur("lease", d.cfg.Lease).
		Int("max_workers", d.cfg.MaxWorkers).
		Msg("Starting dispatcher")

	d.ctx, d.cancel = context.WithCancel(ctx)
	ticker := d.clock.NewTicker(d.cfg.PollInterval)

	d.wg.Add(1)
	go d.run(ticker)

	return nil
}

// Stop cancels running executions and waits for their results to be committed.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info().Msg("Stopping dispatcher")
		close(d.stopCh)

		d.startMu.Lock()
		cancel := d.cancel
		d.startMu.Unlock()
		if cancel != nil {
			cancel()
		}

		d.wg.Wait()
		d.logger.Info().Msg("Dispatcher stopped, all dispatches committed")
	})
}

// RunOnce executes a single dispatch cycle and waits for every schedule it
// claimed to be committed.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	workers, err := d.cycle(ctx)
	workers.Wait()
	return err
}

// run is the main poll loop.
func (d *Dispatcher) run(ticker clock.Ticker) {
	defer d.wg.Done()
	defer ticker.Stop()

	d.tick()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C():
			d.tick()
		}
	}
}

func (d *Dispatcher) tick() {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("Dispatch cycle panicked")
		}
	}()
	// Errors are logged inside cycle; the loop carries on at the next tick.
	_, _ = d.cycle(d.ctx)
}

// cycle lists due schedules, claims what the worker pool can take and starts
// one worker per claim. It never waits for execution; the returned group
// completes when this cycle's workers have committed.
func (d *Dispatcher) cycle(ctx context.Context) (*sync.WaitGroup, error) {
	workers := &sync.WaitGroup{}
	start := time.Now()
	now := d.clock.Now()

	ctx, span := tracing.StartCycleSpan(ctx, d.cfg.NodeID)
	defer span.End()

	due, err := d.store.ListDue(ctx, now)
	if err != nil {
		tracing.RecordError(span, err)
		d.logger.Error().Err(err).Msg("Failed to list due schedules")
		return workers, fmt.Errorf("list due schedules: %w", err)
	}
	span.SetAttributes(tracing.AttrDueCount.Int(len(due)))

	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		if !d.markInFlight(sched.ID) {
			d.logger.Debug().Str("schedule_id", sched.ID).Msg("Schedule still running in this process, skipping")
			continue
		}
		if !d.sem.TryAcquire(1) {
			d.clearInFlight(sched.ID)
			d.logger.Debug().Int("max_workers", d.cfg.MaxWorkers).Msg("Worker pool full, deferring remaining schedules")
			break
		}

		held, ok := d.claim(ctx, sched.ID, now)
		if !ok {
			d.sem.Release(1)
			d.clearInFlight(sched.ID)
			continue
		}

		workers.Add(1)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer workers.Done()
			defer d.sem.Release(1)
			defer d.clearInFlight(held.sched.ID)
			d.dispatch(ctx, held)
		}()
	}

	d.metrics.RecordCycle(len(due), time.Since(start).Seconds())
	tracing.SetSpanOK(span)
	return workers, nil
}

// claimed is a schedule held by this dispatcher under token.
type claimed struct {
	sched *models.Schedule
	token string
}

// claim tries to take id for this process. A stale claim is closed as a
// failed attempt and not executed in this cycle.
func (d *Dispatcher) claim(ctx context.Context, id string, now time.Time) (claimed, bool) {
	token := uuid.New().String()
	sched, outcome, err := d.store.Claim(ctx, id, token, now, d.cfg.Lease)
	if err != nil {
		d.logger.Error().Err(err).Str("schedule_id", id).Msg("Failed to claim schedule")
		return claimed{}, false
	}
	d.metrics.RecordClaim(outcome.String())

	switch outcome {
	case models.ClaimAcquired:
		return claimed{sched: sched, token: token}, true
	case models.ClaimReclaimed:
		d.logger.Warn().
			Str("schedule_id", id).
			Time("due_at", sched.NextRun).
			Msg("Reclaimed stale claim, recording interrupted dispatch")
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommitTimeout)
		defer cancel()
		d.commitFailure(commitCtx, claimed{sched: sched, token: token}, models.Failed(now, ErrInterrupted))
		return claimed{}, false
	default:
		d.logger.Debug().Str("schedule_id", id).Str("outcome", outcome.String()).Msg("Schedule not claimed")
		return claimed{}, false
	}
}

// dispatch executes a claimed schedule and commits its result.
func (d *Dispatcher) dispatch(ctx context.Context, c claimed) {
	sched := c.sched
	ctx, span := tracing.StartDispatchSpan(ctx, sched.ID, sched.Name, string(sched.ReportType), string(sched.Format), sched.NextRun)
	defer span.End()

	d.logger.Info().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Time("due_at", sched.NextRun).
		Msg("Dispatching schedule")

	d.metrics.AddInFlight(1)
	start := time.Now()
	result := d.execute(ctx, sched)
	d.metrics.AddInFlight(-1)

	status := "success"
	if !result.Success {
		status = "failure"
		tracing.RecordError(span, errors.New(result.ErrorMessage))
	}
	d.metrics.RecordDispatch(string(sched.ReportType), string(sched.Format), status, time.Since(start).Seconds())

	// The result is committed even when ctx was cancelled by Stop.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommitTimeout)
	defer cancel()

	var committed *models.Schedule
	if result.Success {
		committed = d.commitSuccess(commitCtx, c, result)
	} else {
		committed = d.commitFailure(commitCtx, c, result)
	}
	if committed == nil {
		return
	}

	tracing.AddCommitAttributes(span, committed.NextRun, committed.FailureCount)
	if result.Success {
		tracing.SetSpanOK(span)
	}
}

// execute runs the executor, turning a panic into a failed result.
func (d *Dispatcher) execute(ctx context.Context, sched *models.Schedule) (result models.DueJobResult) {
	startedAt := d.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("schedule_id", sched.ID).
				Msg("Report executor panicked")
			result = models.Failed(startedAt, fmt.Errorf("executor panic: %v", r))
		}
	}()

	result = d.exec.Execute(ctx, sched.Clone())
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = startedAt
	}
	return result
}

// commitSuccess records a successful run and moves nextRun to the first
// instant after max(executedAt, evaluatedAt).
func (d *Dispatcher) commitSuccess(ctx context.Context, c claimed, result models.DueJobResult) *models.Schedule {
	sched := c.sched
	commit := models.Commit{
		Result:         result,
		FailureCount:   0,
		ClaimedVersion: sched.Version,
		UpdatedAt:      d.clock.Now(),
	}

	evaluatedAt := clock.Latest(result.ExecutedAt, sched.EvaluatedAt)
	next, err := d.naturalNext(sched, evaluatedAt)
	if err != nil {
		d.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("Failed to calculate next run, keeping previous")
	} else {
		commit.NextRun = next
		commit.EvaluatedAt = evaluatedAt
	}

	committed := d.commit(ctx, c, commit)
	if committed != nil {
		d.logger.Info().
			Str("schedule_id", sched.ID).
			Time("executed_at", result.ExecutedAt).
			Time("next_run", committed.NextRun).
			Msg("Schedule dispatched")
	}
	return committed
}

// commitFailure records a failed run and moves nextRun per the retry policy.
func (d *Dispatcher) commitFailure(ctx context.Context, c claimed, result models.DueJobResult) *models.Schedule {
	sched := c.sched
	now := d.clock.Now()
	commit := models.Commit{
		Result:         result,
		ClaimedVersion: sched.Version,
		UpdatedAt:      now,
	}

	evaluatedAt := clock.Latest(now, sched.EvaluatedAt)
	natural, err := d.naturalNext(sched, evaluatedAt)
	if err != nil {
		d.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("Failed to calculate next run, keeping previous")
	} else {
		commit.EvaluatedAt = evaluatedAt
	}

	decision := d.cfg.Retry.Decide(sched.FailureCount+1, now, natural)
	commit.NextRun = decision.NextRun
	commit.FailureCount = decision.FailureCount
	d.metrics.RecordRetry(decision.Action)

	committed := d.commit(ctx, c, commit)
	if committed != nil {
		d.logger.Warn().
			Str("schedule_id", sched.ID).
			Str("error", result.ErrorMessage).
			Str("action", decision.Action).
			Int("failure_count", committed.FailureCount).
			Time("next_run", committed.NextRun).
			Msg("Schedule dispatch failed")
	}
	return committed
}

// commit writes the outcome under the claim token. A lost claim is logged
// and the result dropped.
func (d *Dispatcher) commit(ctx context.Context, c claimed, commit models.Commit) *models.Schedule {
	committed, err := d.store.CommitResult(ctx, c.sched.ID, c.token, commit)
	switch {
	case errors.Is(err, models.ErrClaimLost):
		d.metrics.RecordCommitLost()
		d.logger.Warn().Str("schedule_id", c.sched.ID).Msg("Claim lost before commit, dropping result")
		return nil
	case err != nil:
		d.logger.Error().Err(err).Str("schedule_id", c.sched.ID).Msg("Failed to commit dispatch result")
		return nil
	}
	return committed
}

func (d *Dispatcher) naturalNext(sched *models.Schedule, now time.Time) (time.Time, error) {
	rule, err := sched.Rule()
	if err != nil {
		return time.Time{}, err
	}
	return d.calc.Next(rule, now)
}

// markInFlight records id as running here. It reports false when it already is.
func (d *Dispatcher) markInFlight(id string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) clearInFlight(id string) {
	d.inflightMu.Lock()
	delete(d.inflight, id)
	d.inflightMu.Unlock()
}
