package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.EnsurePlan(ctx, "acct-1", 1000); err != nil {
		t.Fatalf("EnsurePlan: %v", err)
	}

	if err := l.Reserve(ctx, "acct-1", 600); err != nil {
		t.Fatalf("Reserve(600): %v", err)
	}
	if err := l.Reserve(ctx, "acct-1", 500); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Reserve(500) = %v, want ErrQuotaExceeded", err)
	}

	// A failed reservation must not consume anything.
	p, err := l.Plan(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p.UsedBytes != 600 {
		t.Errorf("UsedBytes = %d, want 600", p.UsedBytes)
	}

	if err := l.Reserve(ctx, "acct-1", 400); err != nil {
		t.Fatalf("Reserve(400): %v", err)
	}
	if err := l.Release(ctx, "acct-1", 1000); err != nil {
		t.Fatalf("Release: %v", err)
	}
	p, _ = l.Plan(ctx, "acct-1")
	if p.UsedBytes != 0 {
		t.Errorf("UsedBytes after release = %d, want 0", p.UsedBytes)
	}
}

func TestReserveExactFit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 100)

	if err := l.Reserve(ctx, "acct-1", 100); err != nil {
		t.Fatalf("Reserve filling plan exactly: %v", err)
	}
	if err := l.Reserve(ctx, "acct-1", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Reserve(1) on full plan = %v, want ErrQuotaExceeded", err)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 1000)
	l.Reserve(ctx, "acct-1", 100)

	if err := l.Release(ctx, "acct-1", 500); err != nil {
		t.Fatalf("Release: %v", err)
	}
	p, _ := l.Plan(ctx, "acct-1")
	if p.UsedBytes != 0 {
		t.Errorf("UsedBytes = %d, want 0", p.UsedBytes)
	}
}

func TestNegativeSizesRejected(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 1000)
	l.Reserve(ctx, "acct-1", 100)

	if err := l.Reserve(ctx, "acct-1", -50); err == nil {
		t.Error("Reserve(-50) accepted")
	}
	if err := l.Release(ctx, "acct-1", -50); err == nil {
		t.Error("Release(-50) accepted")
	}
	p, _ := l.Plan(ctx, "acct-1")
	if p.UsedBytes != 100 {
		t.Errorf("UsedBytes = %d, want 100 untouched", p.UsedBytes)
	}
}

func TestReserveInactivePlan(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 1000)
	l.SetStatus("acct-1", StatusSuspended)

	if err := l.Reserve(ctx, "acct-1", 10); !errors.Is(err, ErrPlanInactive) {
		t.Fatalf("Reserve on suspended plan = %v, want ErrPlanInactive", err)
	}
}

func TestUnknownAccount(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Plan(ctx, "nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Plan = %v, want ErrPlanNotFound", err)
	}
	if err := l.Reserve(ctx, "nope", 1); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Reserve = %v, want ErrPlanNotFound", err)
	}
	if err := l.Release(ctx, "nope", 1); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Release = %v, want ErrPlanNotFound", err)
	}
}

func TestEnsurePlanIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 1000)
	l.Reserve(ctx, "acct-1", 300)

	// A second EnsurePlan must not reset usage or allotment.
	if err := l.EnsurePlan(ctx, "acct-1", 5000); err != nil {
		t.Fatalf("EnsurePlan: %v", err)
	}
	p, _ := l.Plan(ctx, "acct-1")
	if p.UsedBytes != 300 || p.AllottedBytes != 1000 {
		t.Errorf("plan = used %d allotted %d, want 300/1000", p.UsedBytes, p.AllottedBytes)
	}
}

func TestConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.EnsurePlan(ctx, "acct-1", 1000)

	// 100 goroutines race to reserve 10 bytes each against a 1000-byte
	// plan. Every success consumes real space, so successes*10 must equal
	// final usage and usage must never exceed the allotment.
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, "acct-1", 10); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, _ := l.Plan(ctx, "acct-1")
	if p.UsedBytes != int64(successes)*10 {
		t.Errorf("UsedBytes = %d, want %d", p.UsedBytes, successes*10)
	}
	if p.UsedBytes > p.AllottedBytes {
		t.Errorf("UsedBytes %d exceeds allotment %d", p.UsedBytes, p.AllottedBytes)
	}
}

func TestRemaining(t *testing.T) {
	p := &Plan{AllottedBytes: 100, UsedBytes: 30}
	if got := p.Remaining(); got != 70 {
		t.Errorf("Remaining = %d, want 70", got)
	}
	p.UsedBytes = 150
	if got := p.Remaining(); got != 0 {
		t.Errorf("Remaining on overrun = %d, want 0", got)
	}
}
