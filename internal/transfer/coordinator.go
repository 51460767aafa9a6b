// Package transfer builds and commits the paired transactions that represent
// money movement between accounts.
//
// A transfer is never persisted as its own row: committing one writes an
// expense leg on the source account and an income leg on the destination,
// both tagged with a shared correlator. The coordinator validates the request
// against the ledger, converts across currencies, and guarantees the two legs
// land as a unit - either inside one gateway transaction scope, or through a
// compensating-write protocol when the gateway cannot provide one.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/ledger"
)

// MaxRate is the sane upper bound on exchange rates; anything at or above it
// is rejected as a likely input error.
var MaxRate = decimal.NewFromInt(10000)

var one = decimal.NewFromInt(1)

// Request describes a single transfer. Amount is in the source account's
// currency. Correlator doubles as the human-facing display code on both legs
// and is generated when empty.
type Request struct {
	FromAccountID string
	ToAccountID   string
	Amount        core.Money
	Rate          decimal.Decimal
	Kind          core.TransferKind
	Category      string
	Note          string
	Correlator    string
	Date          time.Time
}

// Coordinator validates and commits transfers through a persistence gateway.
type Coordinator struct {
	gw    gateway.Gateway
	now   func() time.Time
	newID func() string
}

func New(gw gateway.Gateway) *Coordinator {
	return &Coordinator{
		gw:    gw,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Commit runs the transfer protocol: Requested -> Validated -> Committed, or
// Requested -> Rejected with a validation error and nothing written.
//
// When the gateway supports a transaction scope, both balance checks and both
// leg writes happen inside one scope, so concurrent transfers against the
// same source cannot overdraw it. Otherwise the legs are written
// sequentially; a failed credit leg triggers a compensating income write on
// the source and the caller receives an *IncompleteError either way.
func (c *Coordinator) Commit(ctx context.Context, req Request) (core.Transfer, error) {
	if req.Kind == "" {
		req.Kind = core.KindTransfer
	}
	if req.Correlator == "" {
		req.Correlator = c.newCorrelator()
	}
	if req.Date.IsZero() {
		req.Date = c.now()
	}

	// Cancellation is honored only before the first leg exists; afterwards
	// the protocol must run to a paired or compensated end state.
	if err := ctx.Err(); err != nil {
		return core.Transfer{}, err
	}

	if tr, ok := c.gw.(gateway.TxRunner); ok {
		var committed core.Transfer
		err := tr.RunInTx(ctx, func(gw gateway.Gateway) error {
			tx, err := c.commitLegs(ctx, gw, req)
			if err != nil {
				return err
			}
			committed = tx
			return nil
		})
		if err != nil {
			return core.Transfer{}, err
		}
		return committed, nil
	}

	return c.commitCompensating(ctx, req)
}

// commitLegs validates against gw and writes both legs plus the DPS log
// entry. Inside a transaction scope this is all-or-nothing.
func (c *Coordinator) commitLegs(ctx context.Context, gw gateway.Gateway, req Request) (core.Transfer, error) {
	from, to, err := c.validate(ctx, gw, req)
	if err != nil {
		return core.Transfer{}, err
	}
	debit, credit, err := c.buildLegs(req, from, to)
	if err != nil {
		return core.Transfer{}, err
	}
	if err := gw.InsertTransaction(ctx, &debit); err != nil {
		return core.Transfer{}, fmt.Errorf("insert debit leg: %w", err)
	}
	if err := gw.InsertTransaction(ctx, &credit); err != nil {
		return core.Transfer{}, fmt.Errorf("insert credit leg: %w", err)
	}
	if req.Kind == core.KindDPSTransfer {
		if err := gw.InsertDPSTransfer(ctx, c.dpsRecord(req, from, to)); err != nil {
			return core.Transfer{}, fmt.Errorf("insert dps transfer record: %w", err)
		}
	}
	return core.Transfer{Correlator: req.Correlator, Kind: req.Kind, Expense: debit, Income: credit}, nil
}

// commitCompensating is the fallback for gateways without a transaction
// scope: write debit, write credit, and on credit failure reverse the debit.
func (c *Coordinator) commitCompensating(ctx context.Context, req Request) (core.Transfer, error) {
	from, to, err := c.validate(ctx, c.gw, req)
	if err != nil {
		return core.Transfer{}, err
	}
	debit, credit, err := c.buildLegs(req, from, to)
	if err != nil {
		return core.Transfer{}, err
	}

	if err := c.gw.InsertTransaction(ctx, &debit); err != nil {
		return core.Transfer{}, fmt.Errorf("insert debit leg: %w", err)
	}

	if creditErr := c.gw.InsertTransaction(ctx, &credit); creditErr != nil {
		reversal := core.Transaction{
			ID:          c.newID(),
			AccountID:   from.ID,
			Type:        core.Income,
			Amount:      debit.Amount,
			Currency:    from.Currency,
			Category:    debit.Category,
			Date:        req.Date,
			Note:        "reversal: credit leg failed",
			Tags:        core.EncodeTransferTags(req.Kind, req.Correlator),
			DisplayCode: req.Correlator,
		}
		incomplete := &IncompleteError{
			Correlator:     req.Correlator,
			CommittedLegID: debit.ID,
			Err:            creditErr,
		}
		if revErr := c.gw.InsertTransaction(ctx, &reversal); revErr != nil {
			// The debit leg is now orphaned; the error carries enough for
			// manual reconciliation.
			incomplete.CompensationErr = revErr
			slog.ErrorContext(ctx, "Transfer compensation failed",
				"correlator", req.Correlator,
				"committed_leg", debit.ID,
				"credit_error", creditErr,
				"compensation_error", revErr)
			return core.Transfer{}, incomplete
		}
		incomplete.Compensated = true
		slog.WarnContext(ctx, "Transfer reversed after credit leg failure",
			"correlator", req.Correlator,
			"committed_leg", debit.ID,
			"error", creditErr)
		return core.Transfer{}, incomplete
	}

	if req.Kind == core.KindDPSTransfer {
		if err := c.gw.InsertDPSTransfer(ctx, c.dpsRecord(req, from, to)); err != nil {
			// Both legs stand; only the secondary log write failed.
			slog.ErrorContext(ctx, "DPS transfer log write failed",
				"correlator", req.Correlator, "error", err)
		}
	}

	return core.Transfer{Correlator: req.Correlator, Kind: req.Kind, Expense: debit, Income: credit}, nil
}

func (c *Coordinator) validate(ctx context.Context, gw gateway.Gateway, req Request) (from, to core.Account, err error) {
	if req.FromAccountID == req.ToAccountID {
		return from, to, fmt.Errorf("%w: source and destination are the same", core.ErrInvalidAccountPair)
	}
	if err := req.Amount.Validate(); err != nil {
		return from, to, err
	}

	from, err = gw.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return from, to, fmt.Errorf("%w: source: %v", core.ErrInvalidAccountPair, err)
	}
	to, err = gw.GetAccount(ctx, req.ToAccountID)
	if err != nil {
		return from, to, fmt.Errorf("%w: destination: %v", core.ErrInvalidAccountPair, err)
	}
	if !from.Active {
		return from, to, fmt.Errorf("%w: source inactive", core.ErrInvalidAccountPair)
	}
	if !to.Active {
		return from, to, fmt.Errorf("%w: destination inactive", core.ErrInvalidAccountPair)
	}

	if from.Currency == to.Currency {
		// Same-currency transfers are never rate-adjusted.
		if !req.Rate.Equal(one) {
			return from, to, fmt.Errorf("%w: same-currency transfer requires rate 1, got %s",
				core.ErrInvalidExchangeRate, req.Rate)
		}
	} else if req.Rate.Sign() <= 0 || req.Rate.GreaterThanOrEqual(MaxRate) {
		return from, to, fmt.Errorf("%w: %s", core.ErrInvalidExchangeRate, req.Rate)
	}

	if req.Kind == core.KindDPSTransfer {
		if !from.IsPrimaryFor(to.ID) && !to.IsPrimaryFor(from.ID) {
			return from, to, fmt.Errorf("%w: accounts are not dps-linked", core.ErrInvalidAccountPair)
		}
	}

	txs, err := gw.ListTransactions(ctx, from.ID, gateway.Filter{})
	if err != nil {
		return from, to, fmt.Errorf("list source transactions: %w", err)
	}
	balance := ledger.CurrentBalance(from, txs)
	if req.Amount.Units > balance.Units {
		return from, to, fmt.Errorf("%w: need %s, have %s",
			core.ErrInsufficientFunds, req.Amount.Format(from.Currency), balance.Format(from.Currency))
	}
	return from, to, nil
}

func (c *Coordinator) buildLegs(req Request, from, to core.Account) (debit, credit core.Transaction, err error) {
	toAmount, err := core.Convert(req.Amount, req.Rate, from.Currency, to.Currency)
	if err != nil {
		return debit, credit, err
	}
	if !toAmount.IsPositive() {
		return debit, credit, fmt.Errorf("%w: converted amount rounds to zero", core.ErrInvalidAmount)
	}

	category := req.Category
	if category == "" {
		category = "Transfer"
	}
	tags := core.EncodeTransferTags(req.Kind, req.Correlator)

	debit = core.Transaction{
		ID:          c.newID(),
		AccountID:   from.ID,
		Type:        core.Expense,
		Amount:      req.Amount,
		Currency:    from.Currency,
		Category:    category,
		Date:        req.Date,
		Note:        req.Note,
		Tags:        tags,
		DisplayCode: req.Correlator,
	}
	credit = core.Transaction{
		ID:          c.newID(),
		AccountID:   to.ID,
		Type:        core.Income,
		Amount:      toAmount,
		Currency:    to.Currency,
		Category:    category,
		Date:        req.Date,
		Note:        req.Note,
		Tags:        append([]string(nil), tags...),
		DisplayCode: req.Correlator,
	}
	return debit, credit, nil
}

func (c *Coordinator) dpsRecord(req Request, from, to core.Account) core.DPSTransferRecord {
	direction := core.DirectionContribution
	if to.IsPrimaryFor(from.ID) {
		direction = core.DirectionWithdrawal
	}
	return core.DPSTransferRecord{
		ID:            c.newID(),
		Correlator:    req.Correlator,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        req.Amount,
		Direction:     direction,
		Date:          req.Date,
	}
}

// newCorrelator generates a short human-facing code shared by both legs.
func (c *Coordinator) newCorrelator() string {
	return "TR-" + strings.ToUpper(strings.ReplaceAll(c.newID(), "-", "")[:10])
}
