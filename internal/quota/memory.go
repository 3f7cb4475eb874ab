package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackdrive/stackdrive/internal/metrics"
)

// MemoryLedger is an in-memory Ledger used in tests and local development.
type MemoryLedger struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{plans: make(map[string]*Plan)}
}

// EnsurePlan creates a free activated plan for the account if none exists.
func (l *MemoryLedger) EnsurePlan(_ context.Context, accountID string, allotted int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.plans[accountID]; ok {
		return nil
	}
	l.plans[accountID] = &Plan{
		AccountID:     accountID,
		Type:          TypeFree,
		Status:        StatusActivated,
		AllottedBytes: allotted,
		UpdatedAt:     time.Now(),
	}
	return nil
}

// Plan returns a copy of the account's plan.
func (l *MemoryLedger) Plan(_ context.Context, accountID string) (*Plan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

// SetStatus changes the plan status. Test helper.
func (l *MemoryLedger) SetStatus(accountID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.plans[accountID]; ok {
		p.Status = status
	}
}

// Reserve adds size to the usage counter under the ledger lock.
func (l *MemoryLedger) Reserve(_ context.Context, accountID string, size int64) error {
	if size < 0 {
		return fmt.Errorf("reserve: negative size %d", size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return ErrPlanNotFound
	}
	if !p.Active() {
		return ErrPlanInactive
	}
	if p.UsedBytes+size > p.AllottedBytes {
		metrics.RecordQuotaExceeded()
		return ErrQuotaExceeded
	}
	p.UsedBytes += size
	p.UpdatedAt = time.Now()
	return nil
}

// Release subtracts size from the usage counter, flooring at zero.
func (l *MemoryLedger) Release(_ context.Context, accountID string, size int64) error {
	if size < 0 {
		return fmt.Errorf("release: negative size %d", size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return ErrPlanNotFound
	}
	p.UsedBytes -= size
	if p.UsedBytes < 0 {
		p.UsedBytes = 0
	}
	p.UpdatedAt = time.Now()
	return nil
}

// Accounts returns the IDs of all accounts with a plan.
func (l *MemoryLedger) Accounts(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.plans))
	for id := range l.plans {
		ids = append(ids, id)
	}
	return ids, nil
}

// SetUsed overwrites the usage counter.
func (l *MemoryLedger) SetUsed(_ context.Context, accountID string, used int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return ErrPlanNotFound
	}
	if used < 0 {
		used = 0
	}
	p.UsedBytes = used
	p.UpdatedAt = time.Now()
	return nil
}
