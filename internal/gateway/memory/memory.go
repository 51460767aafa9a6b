// Package memory is an in-memory persistence gateway, used by tests and the
// "memory" data backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"finledger/internal/core"
	"finledger/internal/gateway"
)

// Store keeps everything in mutex-guarded maps and hands out defensive
// copies. Its RunInTx snapshots the state and rolls back on error;
// transaction scopes are serialized against each other, while plain calls
// outside a scope are only guarded per-operation.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	allocations  map[string]core.DonationSavingRecord
	dpsTransfers []core.DPSTransferRecord
	goals        map[string]core.SavingsGoal
	seq          int64

	// insert fault injection, used by tests to exercise the transfer
	// coordinator's compensation protocol
	insertOKLeft   int
	insertFailLeft int
	insertErr      error
}

func New() *Store {
	return &Store{
		accounts:     make(map[string]core.Account),
		transactions: make(map[string]core.Transaction),
		allocations:  make(map[string]core.DonationSavingRecord),
		goals:        make(map[string]core.SavingsGoal),
	}
}

// FailInsertsAfter makes the next n transaction inserts succeed and the
// following count inserts fail with err (count <= 0 means every later one),
// until cleared with ClearInsertFailure.
func (s *Store) FailInsertsAfter(n, count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertOKLeft = n
	s.insertFailLeft = count
	s.insertErr = err
}

func (s *Store) ClearInsertFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) UpdateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", a.ID, gateway.ErrNotFound)
	}
	if a.Currency != prev.Currency && s.accountHasTransactions(a.ID) {
		return core.ErrCurrencyImmutable
	}
	a.CreatedAt = prev.CreatedAt
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
	}
	if s.accountHasTransactions(id) {
		return core.ErrAccountInUse
	}
	delete(s.accounts, id)
	return nil
}

func (s *Store) accountHasTransactions(id string) bool {
	for _, tx := range s.transactions {
		if tx.AccountID == id {
			return true
		}
	}
	return false
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, gateway.ErrNotFound)
	}
	return copyTx(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, f gateway.Filter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if accountID != "" && tx.AccountID != accountID {
			continue
		}
		if !f.Matches(tx) {
			continue
		}
		out = append(out, copyTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, tx *core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		if s.insertOKLeft == 0 {
			if s.insertFailLeft > 0 {
				s.insertFailLeft--
				if s.insertFailLeft == 0 {
					err := s.insertErr
					s.insertErr = nil
					return err
				}
			}
			return s.insertErr
		}
		s.insertOKLeft--
	}
	if _, ok := s.accounts[tx.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", tx.AccountID, gateway.ErrNotFound)
	}
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	s.seq++
	tx.Seq = s.seq
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	s.transactions[tx.ID] = copyTx(*tx)
	return nil
}

func (s *Store) InsertAllocation(_ context.Context, rec core.DonationSavingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.allocations {
		if existing.TransactionID == rec.TransactionID {
			return core.ErrAlreadyAllocated
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.allocations[rec.ID] = rec
	return nil
}

func (s *Store) GetAllocationByTransaction(_ context.Context, transactionID string) (core.DonationSavingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.allocations {
		if rec.TransactionID == transactionID {
			return rec, true, nil
		}
	}
	return core.DonationSavingRecord{}, false, nil
}

func (s *Store) GetAllocation(_ context.Context, id string) (core.DonationSavingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.allocations[id]
	if !ok {
		return core.DonationSavingRecord{}, fmt.Errorf("allocation %s: %w", id, gateway.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) UpdateAllocationStatus(_ context.Context, id string, status core.AllocationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.allocations[id]
	if !ok {
		return fmt.Errorf("allocation %s: %w", id, gateway.ErrNotFound)
	}
	rec.Status = status
	s.allocations[id] = rec
	return nil
}

func (s *Store) ListAllocations(_ context.Context) ([]core.DonationSavingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DonationSavingRecord, 0, len(s.allocations))
	for _, rec := range s.allocations {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) InsertDPSTransfer(_ context.Context, rec core.DPSTransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.dpsTransfers = append(s.dpsTransfers, rec)
	return nil
}

func (s *Store) ListDPSTransfers(_ context.Context, accountID string) ([]core.DPSTransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.DPSTransferRecord
	for _, rec := range s.dpsTransfers {
		if accountID != "" && rec.FromAccountID != accountID && rec.ToAccountID != accountID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) CreateGoal(_ context.Context, g core.SavingsGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; ok {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	s.goals[g.ID] = g
	return nil
}

func (s *Store) ListGoals(_ context.Context) ([]core.SavingsGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SavingsGoal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddToGoal(_ context.Context, id string, delta core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %s: %w", id, gateway.ErrNotFound)
	}
	next := g.CurrentAmount.Add(delta)
	if next.IsNegative() {
		return core.ErrInvalidAmount
	}
	g.CurrentAmount = next
	s.goals[id] = g
	return nil
}

// RunInTx runs fn against the store with snapshot rollback on error.
func (s *Store) RunInTx(_ context.Context, fn func(gateway.Gateway) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type state struct {
	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	allocations  map[string]core.DonationSavingRecord
	dpsTransfers []core.DPSTransferRecord
	goals        map[string]core.SavingsGoal
	seq          int64
}

func (s *Store) snapshot() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := state{
		accounts:     make(map[string]core.Account, len(s.accounts)),
		transactions: make(map[string]core.Transaction, len(s.transactions)),
		allocations:  make(map[string]core.DonationSavingRecord, len(s.allocations)),
		dpsTransfers: append([]core.DPSTransferRecord(nil), s.dpsTransfers...),
		goals:        make(map[string]core.SavingsGoal, len(s.goals)),
		seq:          s.seq,
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.transactions {
		snap.transactions[k] = copyTx(v)
	}
	for k, v := range s.allocations {
		snap.allocations[k] = v
	}
	for k, v := range s.goals {
		snap.goals[k] = v
	}
	return snap
}

func (s *Store) restore(snap state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.transactions = snap.transactions
	s.allocations = snap.allocations
	s.dpsTransfers = snap.dpsTransfers
	s.goals = snap.goals
	s.seq = snap.seq
}

func copyTx(tx core.Transaction) core.Transaction {
	tx.Tags = append([]string(nil), tx.Tags...)
	return tx
}
