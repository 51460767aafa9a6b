// Package gateway defines the persistence ports the engine writes through.
//
// The engine never owns storage: it consumes these interfaces and commits via
// them. Implementations live in internal/storage (SQLite) and
// internal/gateway/memory (tests and the memory backend).
package gateway

import (
	"context"
	"errors"
	"time"

	"finledger/internal/core"
)

var ErrNotFound = errors.New("not found")

// Filter narrows a transaction listing. Zero values mean "no constraint".
type Filter struct {
	Type     core.TransactionType
	Category string
	Since    time.Time
	Until    time.Time
}

func (f Filter) Matches(tx core.Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && tx.Date.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && tx.Date.After(f.Until) {
		return false
	}
	return true
}

type (
	AccountStore interface {
		GetAccount(ctx context.Context, id string) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
		CreateAccount(ctx context.Context, a core.Account) error
		UpdateAccount(ctx context.Context, a core.Account) error
		// DeleteAccount hard-deletes; it fails with core.ErrAccountInUse
		// while any transaction references the account.
		DeleteAccount(ctx context.Context, id string) error
	}

	TransactionStore interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		ListTransactions(ctx context.Context, accountID string, f Filter) ([]core.Transaction, error)
		// InsertTransaction assigns tx.Seq before returning.
		InsertTransaction(ctx context.Context, tx *core.Transaction) error
	}

	AllocationStore interface {
		InsertAllocation(ctx context.Context, rec core.DonationSavingRecord) error
		GetAllocationByTransaction(ctx context.Context, transactionID string) (core.DonationSavingRecord, bool, error)
		GetAllocation(ctx context.Context, id string) (core.DonationSavingRecord, error)
		UpdateAllocationStatus(ctx context.Context, id string, status core.AllocationStatus) error
		ListAllocations(ctx context.Context) ([]core.DonationSavingRecord, error)
	}

	DPSLogStore interface {
		InsertDPSTransfer(ctx context.Context, rec core.DPSTransferRecord) error
		ListDPSTransfers(ctx context.Context, accountID string) ([]core.DPSTransferRecord, error)
	}

	GoalStore interface {
		CreateGoal(ctx context.Context, g core.SavingsGoal) error
		ListGoals(ctx context.Context) ([]core.SavingsGoal, error)
		// AddToGoal bumps CurrentAmount; negative deltas are administrative
		// corrections and must not take the amount below zero.
		AddToGoal(ctx context.Context, id string, delta core.Money) error
	}

	Gateway interface {
		AccountStore
		TransactionStore
		AllocationStore
		DPSLogStore
		GoalStore
	}

	// TxRunner is implemented by gateways that can scope a function's
	// operations to one atomic transaction. The transfer coordinator prefers
	// this path; without it, it falls back to compensating writes.
	TxRunner interface {
		RunInTx(ctx context.Context, fn func(Gateway) error) error
	}
)
