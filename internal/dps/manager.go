// Package dps manages recurring-deposit plans: enabling a plan on a primary
// account, the linked savings sub-account, and moving money between the two
// as tagged dps transfers.
package dps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/transfer"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// EnableRequest configures a recurring-deposit plan on a primary account.
// When SavingsAccountID is empty a dedicated sub-account is created in the
// primary's currency; otherwise the named account is adopted as the plan's
// sub-account.
type EnableRequest struct {
	AccountID        string
	Type             core.RepetitionType
	AmountType       core.DPSAmountType
	FixedAmount      core.Money
	Percent          decimal.Decimal
	SavingsAccountID string
}

func (r EnableRequest) validate() error {
	if _, err := CheckerFor(r.Type); err != nil {
		return err
	}
	switch r.AmountType {
	case core.AmountFixed:
		if err := r.FixedAmount.Validate(); err != nil {
			return fmt.Errorf("fixed amount: %w", err)
		}
	case core.AmountPercent:
		if r.Percent.Sign() <= 0 || r.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent must be in (0, 100], got %s", core.ErrInvalidAmount, r.Percent)
		}
	default:
		return fmt.Errorf("invalid dps amount type: %s", r.AmountType)
	}
	return nil
}

// Manager owns the lifecycle of recurring-deposit plans.
type Manager struct {
	gw        gateway.Gateway
	transfers *transfer.Coordinator
	now       func() time.Time
	newID     func() string
}

func NewManager(gw gateway.Gateway, transfers *transfer.Coordinator) *Manager {
	return &Manager{
		gw:        gw,
		transfers: transfers,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Enable turns on a recurring-deposit plan for the account and returns the
// updated primary. Enabling twice fails with ErrAlreadyEnabled; adopting a
// savings account that already serves another plan fails with
// ErrAlreadyLinked.
func (m *Manager) Enable(ctx context.Context, req EnableRequest) (core.Account, error) {
	if err := req.validate(); err != nil {
		return core.Account{}, err
	}

	primary, err := m.gw.GetAccount(ctx, req.AccountID)
	if err != nil {
		return core.Account{}, err
	}
	if !primary.Active {
		return core.Account{}, core.ErrAccountInactive
	}
	if primary.HasDPS {
		return core.Account{}, core.ErrAlreadyEnabled
	}

	savingsID := req.SavingsAccountID
	if savingsID == "" {
		savings := core.Account{
			ID:             m.newID(),
			Name:           primary.Name + " Savings",
			Type:           core.AccountDPS,
			Currency:       primary.Currency,
			InitialBalance: core.Money{},
			Active:         true,
		}
		if err := m.gw.CreateAccount(ctx, savings); err != nil {
			return core.Account{}, fmt.Errorf("create savings sub-account: %w", err)
		}
		savingsID = savings.ID
	} else {
		if err := m.adoptable(ctx, primary, savingsID); err != nil {
			return core.Account{}, err
		}
	}

	primary.HasDPS = true
	primary.DPSType = req.Type
	primary.DPSAmountType = req.AmountType
	primary.DPSFixedAmount = req.FixedAmount
	primary.DPSPercent = req.Percent
	primary.DPSSavingsAccountID = savingsID
	primary.DPSStartDate = m.now()
	primary.DPSLastRun = time.Time{}

	if err := m.gw.UpdateAccount(ctx, primary); err != nil {
		return core.Account{}, fmt.Errorf("update primary account: %w", err)
	}

	slog.InfoContext(ctx, "DPS enabled",
		"account_id", primary.ID,
		"savings_account_id", savingsID,
		"type", primary.DPSType,
		"amount_type", primary.DPSAmountType)
	return primary, nil
}

// adoptable checks that an existing account can serve as the plan's savings
// sub-account.
func (m *Manager) adoptable(ctx context.Context, primary core.Account, savingsID string) error {
	if savingsID == primary.ID {
		return fmt.Errorf("%w: account cannot be its own savings sub-account", core.ErrInvalidAccountPair)
	}
	savings, err := m.gw.GetAccount(ctx, savingsID)
	if err != nil {
		return err
	}
	if savings.Currency != primary.Currency {
		return fmt.Errorf("%w: savings sub-account must match primary currency %s",
			core.ErrInvalidAccountPair, primary.Currency)
	}
	accounts, err := m.gw.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		// Re-adopting one's own sub-account after a disable is fine.
		if a.ID != primary.ID && a.IsPrimaryFor(savingsID) {
			return fmt.Errorf("%w: already serving account %s", core.ErrAlreadyLinked, a.ID)
		}
	}
	if !savings.Active {
		savings.Active = true
		if err := m.gw.UpdateAccount(ctx, savings); err != nil {
			return fmt.Errorf("reactivate savings sub-account: %w", err)
		}
	}
	return nil
}

// Disable turns the plan off and deactivates the savings sub-account. The
// link is kept so past dps transfers stay addressable; re-enabling with the
// same sub-account reactivates it through Enable's adoption path.
func (m *Manager) Disable(ctx context.Context, accountID string) error {
	primary, err := m.gw.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !primary.HasDPS {
		return core.ErrNotEnabled
	}

	primary.HasDPS = false
	if err := m.gw.UpdateAccount(ctx, primary); err != nil {
		return fmt.Errorf("update primary account: %w", err)
	}

	savings, err := m.gw.GetAccount(ctx, primary.DPSSavingsAccountID)
	if err != nil {
		slog.ErrorContext(ctx, "DPS savings sub-account missing on disable",
			"account_id", primary.ID, "savings_account_id", primary.DPSSavingsAccountID, "error", err)
		return nil
	}
	savings.Active = false
	if err := m.gw.UpdateAccount(ctx, savings); err != nil {
		return fmt.Errorf("deactivate savings sub-account: %w", err)
	}

	slog.InfoContext(ctx, "DPS disabled", "account_id", primary.ID)
	return nil
}

// Contribute moves amount from the primary account into its savings
// sub-account as a dps transfer.
func (m *Manager) Contribute(ctx context.Context, accountID string, amount core.Money) (core.Transfer, error) {
	primary, err := m.gw.GetAccount(ctx, accountID)
	if err != nil {
		return core.Transfer{}, err
	}
	if !primary.HasDPS {
		return core.Transfer{}, core.ErrNotEnabled
	}
	return m.transfers.Commit(ctx, transfer.Request{
		FromAccountID: primary.ID,
		ToAccountID:   primary.DPSSavingsAccountID,
		Amount:        amount,
		Rate:          one,
		Kind:          core.KindDPSTransfer,
		Category:      "DPS",
		Date:          m.now(),
	})
}

// Withdraw moves amount back from the savings sub-account to the primary.
// It works as long as the link exists, including on a disabled plan, so that
// saved money is never stranded.
func (m *Manager) Withdraw(ctx context.Context, accountID string, amount core.Money) (core.Transfer, error) {
	primary, err := m.gw.GetAccount(ctx, accountID)
	if err != nil {
		return core.Transfer{}, err
	}
	if primary.DPSSavingsAccountID == "" {
		return core.Transfer{}, core.ErrNotEnabled
	}

	// A disabled plan leaves the sub-account inactive; reactivate it for the
	// withdrawal so the transfer validation passes.
	savings, err := m.gw.GetAccount(ctx, primary.DPSSavingsAccountID)
	if err != nil {
		return core.Transfer{}, err
	}
	if !savings.Active {
		savings.Active = true
		if err := m.gw.UpdateAccount(ctx, savings); err != nil {
			return core.Transfer{}, fmt.Errorf("reactivate savings sub-account: %w", err)
		}
		defer func() {
			savings.Active = false
			if err := m.gw.UpdateAccount(context.WithoutCancel(ctx), savings); err != nil {
				slog.ErrorContext(ctx, "Failed to re-deactivate savings sub-account",
					"savings_account_id", savings.ID, "error", err)
			}
		}()
	}

	return m.transfers.Commit(ctx, transfer.Request{
		FromAccountID: primary.DPSSavingsAccountID,
		ToAccountID:   primary.ID,
		Amount:        amount,
		Rate:          one,
		Kind:          core.KindDPSTransfer,
		Category:      "DPS",
		Date:          m.now(),
	})
}
