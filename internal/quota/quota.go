// Package quota tracks per-account storage consumption against plan limits.
package quota

import (
	"context"
	"errors"
	"time"
)

// Plan status values.
const (
	StatusActivated = "activated"
	StatusSuspended = "suspended"
)

// Plan types.
const (
	TypeFree    = "free"
	TypePremium = "premium"
)

var (
	// ErrQuotaExceeded is returned when a reservation would push usage past the limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrPlanNotFound is returned when no plan exists for the account.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanInactive is returned when the account's plan is not activated.
	ErrPlanInactive = errors.New("plan not activated")
)

// Plan describes an account's storage entitlement and current usage.
type Plan struct {
	AccountID     string    `json:"accountId"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	AllottedBytes int64     `json:"allottedBytes"`
	UsedBytes     int64     `json:"usedBytes"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Remaining returns the unused portion of the allotment.
func (p *Plan) Remaining() int64 {
	r := p.AllottedBytes - p.UsedBytes
	if r < 0 {
		return 0
	}
	return r
}

// Active reports whether the plan accepts new reservations.
func (p *Plan) Active() bool {
	return p.Status == StatusActivated
}

// Ledger manages per-account usage counters. Reserve and Release must be
// safe under concurrent callers for the same account.
type Ledger interface {
	// EnsurePlan creates a plan for the account if none exists. An
	// existing plan keeps its type, status and usage.
	EnsurePlan(ctx context.Context, accountID string, allotted int64) error

	// Plan returns the account's plan, or ErrPlanNotFound.
	Plan(ctx context.Context, accountID string) (*Plan, error)

	// Reserve atomically adds size to the account's usage. It fails with
	// ErrQuotaExceeded if the reservation would exceed the allotment, and
	// with ErrPlanInactive if the plan is suspended.
	Reserve(ctx context.Context, accountID string, size int64) error

	// Release atomically subtracts size from the account's usage,
	// flooring at zero.
	Release(ctx context.Context, accountID string, size int64) error

	// SetUsed overwrites the account's usage counter. Used by the
	// reconciler to repair drift.
	SetUsed(ctx context.Context, accountID string, used int64) error

	// Accounts returns the IDs of all accounts with a plan.
	Accounts(ctx context.Context) ([]string, error)
}
