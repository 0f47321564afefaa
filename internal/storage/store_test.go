package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/recurrence"
)

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)

const testLease = 10 * time.Minute

func newTestSchedule(id string, nextRun time.Time) *models.Schedule {
	return &models.Schedule{
		ID:          id,
		Name:        "schedule " + id,
		ReportType:  models.ReportSales,
		Format:      models.FormatCSV,
		Frequency:   recurrence.Daily,
		TimeOfDay:   "09:00",
		Recipients:  []string{"ops@example.com"},
		Status:      models.StatusActive,
		NextRun:     nextRun,
		EvaluatedAt: nextRun.Add(-time.Hour),
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) (Store, func())) {
	t.Run("CRUD", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreCRUD(t, store)
	})
	t.Run("ListDue", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreListDue(t, store)
	})
	t.Run("ClaimAndCommit", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreClaimAndCommit(t, store)
	})
	t.Run("StaleClaim", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreStaleClaim(t, store)
	})
	t.Run("ConcurrentClaims", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreConcurrentClaims(t, store)
	})
	t.Run("EditDuringClaim", func(t *testing.T) {
		store, cleanup := newStore(t)
		defer cleanup()
		testStoreEditDuringClaim(t, store)
	})
}

func testStoreCRUD(t *testing.T, store Store) {
	ctx := context.Background()
	sched := newTestSchedule("s-1", base)

	if err := store.Create(ctx, sched); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, sched); !errors.Is(err, models.ErrScheduleExists) {
		t.Errorf("expected ErrScheduleExists, got %v", err)
	}

	loaded, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != sched.Name || !loaded.NextRun.Equal(sched.NextRun) {
		t.Errorf("loaded schedule mismatch: %+v", loaded)
	}

	loaded.Name = "renamed"
	updated, err := store.Update(ctx, loaded)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 1 || updated.Name != "renamed" {
		t.Errorf("update not applied: version=%d name=%q", updated.Version, updated.Name)
	}

	// loaded still carries version 0.
	if _, err := store.Update(ctx, loaded); !errors.Is(err, models.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	if err := store.Create(ctx, newTestSchedule("s-0", base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].Name != "renamed" || all[1].Name != "schedule s-0" {
		t.Errorf("unexpected list order: %d entries", len(all))
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "s-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "s-1"); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound on second delete, got %v", err)
	}
	if _, err := store.Update(ctx, newTestSchedule("missing", base)); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound on update, got %v", err)
	}
}

func testStoreListDue(t *testing.T, store Store) {
	ctx := context.Background()

	later := newTestSchedule("later", base.Add(-time.Minute))
	earlier := newTestSchedule("earlier", base.Add(-time.Hour))
	exact := newTestSchedule("exact", base)
	future := newTestSchedule("future", base.Add(time.Minute))
	paused := newTestSchedule("paused", base.Add(-time.Hour))
	paused.Status = models.StatusPaused
	completed := newTestSchedule("completed", base.Add(-time.Hour))
	completed.Status = models.StatusCompleted

	for _, s := range []*models.Schedule{later, earlier, exact, future, paused, completed} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create %s failed: %v", s.ID, err)
		}
	}

	due, err := store.ListDue(ctx, base)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}

	want := []string{"earlier", "later", "exact"}
	if len(due) != len(want) {
		t.Fatalf("expected %d due schedules, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("due[%d] = %s, want %s", i, due[i].ID, id)
		}
	}
}

func testStoreClaimAndCommit(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Create(ctx, newTestSchedule("s-1", base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Not yet due.
	_, outcome, err := store.Claim(ctx, "s-1", "tok-a", base.Add(-time.Second), testLease)
	if err != nil || outcome != models.ClaimNotDue {
		t.Fatalf("early claim = %s, %v", outcome, err)
	}

	claimed, outcome, err := store.Claim(ctx, "s-1", "tok-a", base, testLease)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if outcome != models.ClaimAcquired || claimed == nil || claimed.ProcessingToken != "tok-a" {
		t.Fatalf("claim = %s, %+v", outcome, claimed)
	}

	_, outcome, err = store.Claim(ctx, "s-1", "tok-b", base.Add(time.Minute), testLease)
	if err != nil || outcome != models.ClaimContended {
		t.Fatalf("second claim = %s, %v", outcome, err)
	}

	if _, err := store.CommitResult(ctx, "s-1", "tok-b", models.Commit{Result: models.Succeeded(base)}); !errors.Is(err, models.ErrClaimLost) {
		t.Errorf("expected ErrClaimLost for foreign token, got %v", err)
	}

	next := base.Add(24 * time.Hour)
	committed, err := store.CommitResult(ctx, "s-1", "tok-a", models.Commit{
		Result:         models.Succeeded(base),
		NextRun:        next,
		EvaluatedAt:    base,
		ClaimedVersion: claimed.Version,
	})
	if err != nil {
		t.Fatalf("CommitResult failed: %v", err)
	}
	if committed.IsClaimed() || !committed.NextRun.Equal(next) {
		t.Errorf("commit not applied: %+v", committed)
	}

	loaded, _ := store.Load(ctx, "s-1")
	if loaded.IsClaimed() || loaded.LastRun == nil || !loaded.LastRun.Equal(base) {
		t.Errorf("stored state after commit: token=%q lastRun=%v", loaded.ProcessingToken, loaded.LastRun)
	}

	// A second commit with the same token is rejected: the claim was released.
	if _, err := store.CommitResult(ctx, "s-1", "tok-a", models.Commit{Result: models.Succeeded(base)}); !errors.Is(err, models.ErrClaimLost) {
		t.Errorf("expected ErrClaimLost for released claim, got %v", err)
	}

	if _, _, err := store.Claim(ctx, "missing", "tok", base, testLease); !errors.Is(err, models.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func testStoreStaleClaim(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Create(ctx, newTestSchedule("s-1", base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, outcome, err := store.Claim(ctx, "s-1", "tok-a", base, testLease); err != nil || outcome != models.ClaimAcquired {
		t.Fatalf("claim = %s, %v", outcome, err)
	}

	claimed, outcome, err := store.Claim(ctx, "s-1", "tok-b", base.Add(testLease), testLease)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if outcome != models.ClaimReclaimed || claimed.ProcessingToken != "tok-b" {
		t.Fatalf("reclaim = %s, token %q", outcome, claimed.ProcessingToken)
	}

	if _, err := store.CommitResult(ctx, "s-1", "tok-a", models.Commit{Result: models.Succeeded(base)}); !errors.Is(err, models.ErrClaimLost) {
		t.Errorf("expected ErrClaimLost for the interrupted holder, got %v", err)
	}
}

func testStoreConcurrentClaims(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Create(ctx, newTestSchedule("s-1", base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const contenders = 16
	var (
		wg   sync.WaitGroup
		held atomic.Int32
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcome, err := store.Claim(ctx, "s-1", fmt.Sprintf("tok-%d", i), base, testLease)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if outcome.Held() {
				held.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := held.Load(); got != 1 {
		t.Errorf("expected exactly one claim to succeed, got %d", got)
	}
}

func testStoreEditDuringClaim(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Create(ctx, newTestSchedule("s-1", base)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	claimed, _, err := store.Claim(ctx, "s-1", "tok", base, testLease)
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	edit, _ := store.Load(ctx, "s-1")
	edit.TimeOfDay = "18:00"
	edit.NextRun = base.Add(9 * time.Hour)
	edited, err := store.Update(ctx, edit)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if edited.ProcessingToken != "tok" {
		t.Fatalf("edit dropped the claim marker")
	}

	committed, err := store.CommitResult(ctx, "s-1", "tok", models.Commit{
		Result:         models.Succeeded(base),
		NextRun:        base.Add(24 * time.Hour),
		EvaluatedAt:    base,
		ClaimedVersion: claimed.Version,
	})
	if err != nil {
		t.Fatalf("CommitResult failed: %v", err)
	}
	if !committed.NextRun.Equal(base.Add(9 * time.Hour)) {
		t.Errorf("commit overwrote the edited next run: %v", committed.NextRun)
	}
	if committed.TimeOfDay != "18:00" {
		t.Errorf("commit reverted the edit: %s", committed.TimeOfDay)
	}
}
