// Package services orchestrates the engine's operations across the
// persistence gateway and the AMQP event stream.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"finledger/internal/allocation"
	"finledger/internal/amqp"
	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/ledger"
	"finledger/internal/transfer"
)

// FinanceService commits through the gateway first and publishes events
// async. A broker outage degrades the event stream, never the request.
type FinanceService struct {
	gw          gateway.Gateway
	transfers   *transfer.Coordinator
	allocations *allocation.Engine
	amqpClient  *amqp.Client
}

func NewFinanceService(gw gateway.Gateway, allocCfg allocation.Config, amqpClient *amqp.Client) *FinanceService {
	return &FinanceService{
		gw:          gw,
		transfers:   transfer.New(gw),
		allocations: allocation.NewEngine(gw, allocCfg),
		amqpClient:  amqpClient,
	}
}

// CreateAccount validates and persists a new account. A missing id is
// generated.
func (s *FinanceService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Name = strings.TrimSpace(a.Name)
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.gw.CreateAccount(ctx, a); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// Account loads a single account.
func (s *FinanceService) Account(ctx context.Context, id string) (core.Account, error) {
	return s.gw.GetAccount(ctx, id)
}

// Accounts lists all accounts, savings sub-accounts included.
func (s *FinanceService) Accounts(ctx context.Context) ([]core.Account, error) {
	return s.gw.ListAccounts(ctx)
}

// DeleteAccount hard-deletes an account; the gateway refuses while any
// transaction references it.
func (s *FinanceService) DeleteAccount(ctx context.Context, id string) error {
	return s.gw.DeleteAccount(ctx, id)
}

// RecordTransaction persists an ordinary income or expense and, when the
// allocation configuration qualifies it, derives its donation/saving record.
// A failed derivation is queued for retry over AMQP and never fails the
// request; the transaction itself is already committed.
func (s *FinanceService) RecordTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	account, err := s.gw.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	if !account.Active {
		return core.Transaction{}, core.ErrAccountInactive
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.DisplayCode == "" {
		tx.DisplayCode = newDisplayCode()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now()
	}
	// Currency is denormalized from the account at write time.
	tx.Currency = account.Currency

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.gw.InsertTransaction(ctx, &tx); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if s.allocations.Config().Qualifies(tx) {
		if _, err := s.allocations.EnsureDerived(ctx, tx); err != nil {
			if errors.Is(err, core.ErrAllocationPending) {
				s.queueAllocationRetry(ctx, tx.ID)
			} else {
				slog.ErrorContext(ctx, "Allocation derivation rejected",
					"transaction_id", tx.ID, "error", err)
			}
		}
	}

	return tx, nil
}

// Transfer commits a transfer and announces it on the event stream.
func (s *FinanceService) Transfer(ctx context.Context, req transfer.Request) (core.Transfer, error) {
	tr, err := s.transfers.Commit(ctx, req)
	if err != nil {
		return core.Transfer{}, err
	}

	if err := s.publishTransferCommitted(ctx, tr); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transfer committed message",
			"correlator", tr.Correlator, "error", err)
		// Don't fail the request - both legs are committed.
	}
	return tr, nil
}

// RetryAllocation re-runs derivation for a transaction. It is the AMQP
// worker's handler; the transaction id is the idempotency key, so redelivery
// converges on the existing record.
func (s *FinanceService) RetryAllocation(ctx context.Context, transactionID string) error {
	tx, err := s.gw.GetTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if !s.allocations.Config().Qualifies(tx) {
		slog.WarnContext(ctx, "Retried transaction no longer qualifies",
			"transaction_id", transactionID)
		return nil
	}
	if _, err := s.allocations.EnsureDerived(ctx, tx); err != nil {
		return fmt.Errorf("derive allocation: %w", err)
	}
	return nil
}

// Balance derives the account's current balance from its transaction set.
func (s *FinanceService) Balance(ctx context.Context, accountID string) (core.Money, core.Currency, error) {
	account, err := s.gw.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, "", err
	}
	txs, err := s.gw.ListTransactions(ctx, accountID, gateway.Filter{})
	if err != nil {
		return core.Money{}, "", fmt.Errorf("list transactions: %w", err)
	}
	return ledger.CurrentBalance(account, txs), account.Currency, nil
}

// Transfers reconstructs the transfer view over an account's transactions,
// or over all transactions when accountID is empty. Partial and malformed
// groups are part of the result; callers must surface them distinctly.
func (s *FinanceService) Transfers(ctx context.Context, accountID string) (transfer.Reconstruction, error) {
	txs, err := s.gw.ListTransactions(ctx, accountID, gateway.Filter{})
	if err != nil {
		return transfer.Reconstruction{}, fmt.Errorf("list transactions: %w", err)
	}
	return transfer.Reconstruct(txs), nil
}

// Transactions lists an account's transactions, or all transactions when
// accountID is empty.
func (s *FinanceService) Transactions(ctx context.Context, accountID string, f gateway.Filter) ([]core.Transaction, error) {
	return s.gw.ListTransactions(ctx, accountID, f)
}

// DPSTransfers returns the append-only dps transfer log for an account.
func (s *FinanceService) DPSTransfers(ctx context.Context, accountID string) ([]core.DPSTransferRecord, error) {
	return s.gw.ListDPSTransfers(ctx, accountID)
}

// Allocations exposes the engine for status toggles and totals.
func (s *FinanceService) Allocations() *allocation.Engine { return s.allocations }

// ListAllocations returns every derived donation/saving record.
func (s *FinanceService) ListAllocations(ctx context.Context) ([]core.DonationSavingRecord, error) {
	return s.gw.ListAllocations(ctx)
}

// CreateGoal validates and persists a savings goal.
func (s *FinanceService) CreateGoal(ctx context.Context, g core.SavingsGoal) (core.SavingsGoal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return core.SavingsGoal{}, err
	}
	if _, err := s.gw.GetAccount(ctx, g.SourceAccountID); err != nil {
		return core.SavingsGoal{}, fmt.Errorf("source account: %w", err)
	}
	if _, err := s.gw.GetAccount(ctx, g.SavingsAccountID); err != nil {
		return core.SavingsGoal{}, fmt.Errorf("savings account: %w", err)
	}
	if err := s.gw.CreateGoal(ctx, g); err != nil {
		return core.SavingsGoal{}, fmt.Errorf("create goal: %w", err)
	}
	return g, nil
}

// Goals lists all savings goals.
func (s *FinanceService) Goals(ctx context.Context) ([]core.SavingsGoal, error) {
	return s.gw.ListGoals(ctx)
}

// AddToGoal bumps a goal's accumulated amount. Negative deltas are
// administrative corrections.
func (s *FinanceService) AddToGoal(ctx context.Context, id string, delta core.Money) error {
	return s.gw.AddToGoal(ctx, id, delta)
}

func (s *FinanceService) publishTransferCommitted(ctx context.Context, tr core.Transfer) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping transfer event")
		return nil
	}
	msg := amqp.NewTransferCommittedMessage(
		tr.Correlator, string(tr.Kind), tr.Expense.AccountID, tr.Income.AccountID)
	return s.amqpClient.PublishTransferCommitted(ctx, msg)
}

func (s *FinanceService) queueAllocationRetry(ctx context.Context, transactionID string) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, allocation retry not queued",
			"transaction_id", transactionID)
		return
	}
	if err := s.amqpClient.PublishAllocationRetry(ctx, amqp.NewAllocationRetryMessage(transactionID)); err != nil {
		slog.ErrorContext(ctx, "Failed to queue allocation retry",
			"transaction_id", transactionID, "error", err)
	}
}

// Close releases the AMQP connection. The gateway is owned by the caller.
func (s *FinanceService) Close() error {
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			return fmt.Errorf("close amqp: %w", err)
		}
	}
	return nil
}

func newDisplayCode() string {
	return "TX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
