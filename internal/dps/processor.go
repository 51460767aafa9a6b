package dps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/ledger"
	"finledger/internal/transfer"
)

// Processor runs scheduled contributions for all enabled plans. It is driven
// by the dps worker on an interval; each run checks every enabled plan for
// dueness and commits the due contributions.
type Processor struct {
	gw        gateway.Gateway
	transfers *transfer.Coordinator
}

func NewProcessor(gw gateway.Gateway, transfers *transfer.Coordinator) *Processor {
	return &Processor{gw: gw, transfers: transfers}
}

// ProcessDue commits a contribution for every enabled plan that is due at
// now and returns how many were made. A failing plan is logged and skipped;
// it never blocks the other plans.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	accounts, err := p.gw.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	var enabled int
	for _, a := range accounts {
		if a.HasDPS && a.Active {
			enabled++
		}
	}
	slog.InfoContext(ctx, "Processing DPS contributions",
		"enabled_plans", enabled,
		"processing_date", now.Format("2006-01-02"))

	processed := 0
	for _, a := range accounts {
		if !a.HasDPS || !a.Active {
			continue
		}

		checker, err := CheckerFor(a.DPSType)
		if err != nil {
			slog.ErrorContext(ctx, "Plan has unknown repetition type",
				"account_id", a.ID, "type", a.DPSType)
			continue
		}
		if !checker.IsDue(a.DPSLastRun, now, a.DPSStartDate) {
			continue
		}

		amount, err := p.contributionAmount(ctx, a)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to compute contribution amount",
				"account_id", a.ID, "error", err)
			continue
		}
		if !amount.IsPositive() {
			// Percent plans on an empty account round to zero; count the run
			// so the plan is not re-checked until the next period.
			p.markRun(ctx, a.ID, now)
			continue
		}

		_, err = p.transfers.Commit(ctx, transfer.Request{
			FromAccountID: a.ID,
			ToAccountID:   a.DPSSavingsAccountID,
			Amount:        amount,
			Rate:          one,
			Kind:          core.KindDPSTransfer,
			Category:      "DPS",
			Note:          "scheduled contribution",
			Date:          now,
		})
		if err != nil {
			if errors.Is(err, core.ErrInsufficientFunds) {
				// Skip this period rather than overdraw; retry next period.
				slog.WarnContext(ctx, "Skipping contribution, insufficient funds",
					"account_id", a.ID, "amount", amount.Format(a.Currency))
				p.markRun(ctx, a.ID, now)
				continue
			}
			slog.ErrorContext(ctx, "Failed to commit scheduled contribution",
				"account_id", a.ID, "error", err)
			continue
		}

		p.markRun(ctx, a.ID, now)
		processed++
		slog.InfoContext(ctx, "Committed scheduled contribution",
			"account_id", a.ID,
			"savings_account_id", a.DPSSavingsAccountID,
			"amount", amount.Format(a.Currency),
			"type", a.DPSType)
	}

	slog.InfoContext(ctx, "DPS processing complete",
		"processed", processed, "enabled_plans", enabled)
	return processed, nil
}

// contributionAmount resolves the plan's amount: the fixed amount, or the
// configured percentage of the primary's current balance rounded at the
// currency's precision.
func (p *Processor) contributionAmount(ctx context.Context, a core.Account) (core.Money, error) {
	if a.DPSAmountType == core.AmountFixed {
		return a.DPSFixedAmount, nil
	}

	txs, err := p.gw.ListTransactions(ctx, a.ID, gateway.Filter{})
	if err != nil {
		return core.Money{}, fmt.Errorf("list transactions: %w", err)
	}
	balance := ledger.CurrentBalance(a, txs)
	if !balance.IsPositive() {
		return core.Money{}, nil
	}
	return core.FromDecimal(balance.Decimal(a.Currency).Mul(a.DPSPercent).Div(hundred), a.Currency)
}

func (p *Processor) markRun(ctx context.Context, accountID string, now time.Time) {
	// Re-read: the contribution's debit leg may have been written through a
	// transaction scope that saw a fresher account row.
	a, err := p.gw.GetAccount(ctx, accountID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to reload account for last-run update",
			"account_id", accountID, "error", err)
		return
	}
	a.DPSLastRun = now
	if err := p.gw.UpdateAccount(ctx, a); err != nil {
		// The contribution stands; worst case the next run re-checks dueness.
		slog.ErrorContext(ctx, "Failed to update DPS last run",
			"account_id", accountID, "error", err)
	}
}
