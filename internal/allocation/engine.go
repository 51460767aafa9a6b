// Package allocation derives donation/saving records from qualifying income
// transactions. A record freezes its amount and configuration at derivation
// time; afterwards only its pending/donated status may change.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"
)

var hundred = decimal.NewFromInt(100)

// Config is the owner's allocation configuration. Changing it never touches
// records that were already derived.
type Config struct {
	Enabled     bool
	Mode        core.AllocationMode
	FixedAmount core.Money      // used when Mode is fixed
	Percent     decimal.Decimal // 0-100, used when Mode is percent
	Categories  []string        // categories that qualify an income transaction
}

func (c Config) Validate() error {
	switch c.Mode {
	case core.ModeFixed:
		if err := c.FixedAmount.Validate(); err != nil {
			return fmt.Errorf("fixed amount: %w", err)
		}
	case core.ModePercent:
		if c.Percent.Sign() <= 0 || c.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent must be in (0, 100], got %s", core.ErrInvalidAmount, c.Percent)
		}
	default:
		return fmt.Errorf("invalid allocation mode: %s", c.Mode)
	}
	return nil
}

// Qualifies reports whether a transaction triggers automatic derivation:
// an income in one of the configured categories. Transfer legs never
// qualify; moving money between own accounts is not new income.
func (c Config) Qualifies(tx core.Transaction) bool {
	if !c.Enabled || tx.Type != core.Income || core.IsTransferLeg(tx.Tags) {
		return false
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, tx.Category) {
			return true
		}
	}
	return false
}

// Derive computes the record for a transaction under cfg. Pure; persistence
// and idempotency live in Engine.EnsureDerived.
//
// Fixed mode caps at the transaction amount so an allocation never exceeds
// what actually came in. Percent mode rounds half-up at the transaction
// currency's minor-unit precision.
func Derive(tx core.Transaction, cfg Config) (core.DonationSavingRecord, error) {
	if err := cfg.Validate(); err != nil {
		return core.DonationSavingRecord{}, err
	}
	if err := tx.Amount.Validate(); err != nil {
		return core.DonationSavingRecord{}, err
	}

	rec := core.DonationSavingRecord{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Mode:          cfg.Mode,
		Currency:      tx.Currency,
		Status:        core.StatusPending,
	}
	switch cfg.Mode {
	case core.ModeFixed:
		rec.ModeValue = cfg.FixedAmount.Decimal(tx.Currency)
		rec.Amount = cfg.FixedAmount
		if rec.Amount.Units > tx.Amount.Units {
			rec.Amount = tx.Amount
		}
	case core.ModePercent:
		rec.ModeValue = cfg.Percent
		amount, err := core.FromDecimal(
			tx.Amount.Decimal(tx.Currency).Mul(cfg.Percent).Div(hundred), tx.Currency)
		if err != nil {
			return core.DonationSavingRecord{}, err
		}
		rec.Amount = amount
	}
	return rec, nil
}

// Engine persists derived records through the gateway with the originating
// transaction id as the idempotency key.
type Engine struct {
	gw  gateway.AllocationStore
	cfg Config
}

func NewEngine(gw gateway.AllocationStore, cfg Config) *Engine {
	return &Engine{gw: gw, cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// EnsureDerived derives and stores the record for tx exactly once. Calling
// it again for the same transaction returns the existing record unchanged.
// A failed gateway write surfaces as ErrAllocationPending so the caller can
// retry with the same transaction id.
func (e *Engine) EnsureDerived(ctx context.Context, tx core.Transaction) (core.DonationSavingRecord, error) {
	existing, found, err := e.gw.GetAllocationByTransaction(ctx, tx.ID)
	if err != nil {
		return core.DonationSavingRecord{}, fmt.Errorf("%w: lookup failed: %v", core.ErrAllocationPending, err)
	}
	if found {
		return existing, nil
	}

	rec, err := Derive(tx, e.cfg)
	if err != nil {
		return core.DonationSavingRecord{}, err
	}
	if err := e.gw.InsertAllocation(ctx, rec); err != nil {
		if errors.Is(err, core.ErrAlreadyAllocated) {
			// Raced with another writer; the record that won is the record.
			existing, found, lookupErr := e.gw.GetAllocationByTransaction(ctx, tx.ID)
			if lookupErr == nil && found {
				return existing, nil
			}
			return core.DonationSavingRecord{}, err
		}
		return core.DonationSavingRecord{}, fmt.Errorf("%w: insert failed: %v", core.ErrAllocationPending, err)
	}
	return rec, nil
}

// ToggleStatus flips a record between pending and donated. Amount, mode, and
// the originating transaction are untouchable.
func (e *Engine) ToggleStatus(ctx context.Context, id string) (core.DonationSavingRecord, error) {
	rec, err := e.gw.GetAllocation(ctx, id)
	if err != nil {
		return core.DonationSavingRecord{}, err
	}
	next := core.StatusDonated
	if rec.Status == core.StatusDonated {
		next = core.StatusPending
	}
	if err := e.gw.UpdateAllocationStatus(ctx, id, next); err != nil {
		return core.DonationSavingRecord{}, fmt.Errorf("update allocation status: %w", err)
	}
	rec.Status = next
	return rec, nil
}

// Totals are per-currency sums with donated and pending kept apart: donated
// is committed money, pending is forward-looking intent. Consumers must not
// add the two together.
type Totals struct {
	Donated core.Money
	Pending core.Money
}

func (e *Engine) Totals(ctx context.Context) (map[core.Currency]Totals, error) {
	recs, err := e.gw.ListAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	totals := make(map[core.Currency]Totals)
	for _, rec := range recs {
		t := totals[rec.Currency]
		switch rec.Status {
		case core.StatusDonated:
			t.Donated = t.Donated.Add(rec.Amount)
		case core.StatusPending:
			t.Pending = t.Pending.Add(rec.Amount)
		}
		totals[rec.Currency] = t
	}
	return totals, nil
}
