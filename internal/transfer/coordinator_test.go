package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"
	"finledger/internal/gateway/memory"
	"finledger/internal/ledger"
)

// noTx hides the memory store's transaction scope so the coordinator falls
// back to the compensating-write protocol.
type noTx struct {
	gateway.Gateway
}

func seedAccount(t *testing.T, gw gateway.Gateway, id string, cur core.Currency, initialUnits int64) core.Account {
	t.Helper()
	acc := core.Account{
		ID:             id,
		Name:           "Account " + id,
		Type:           core.AccountBank,
		Currency:       cur,
		InitialBalance: core.Money{Units: initialUnits},
		Active:         true,
	}
	if err := gw.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
	return acc
}

func balanceOf(t *testing.T, gw gateway.Gateway, id string) int64 {
	t.Helper()
	ctx := context.Background()
	acc, err := gw.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("get account %s: %v", id, err)
	}
	txs, err := gw.ListTransactions(ctx, id, gateway.Filter{})
	if err != nil {
		t.Fatalf("list transactions %s: %v", id, err)
	}
	return ledger.CurrentBalance(acc, txs).Units
}

func TestSameCurrencyTransferConservation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 2000)

	c := New(store)
	tr, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 4000},
		Rate:          decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if got := balanceOf(t, store, "a"); got != 6000 {
		t.Fatalf("balance(a) = %d, want 6000", got)
	}
	if got := balanceOf(t, store, "b"); got != 6000 {
		t.Fatalf("balance(b) = %d, want 6000", got)
	}

	if tr.Expense.Type != core.Expense || tr.Income.Type != core.Income {
		t.Fatalf("leg types wrong: %s / %s", tr.Expense.Type, tr.Income.Type)
	}
	if tr.Correlator == "" || tr.Expense.DisplayCode != tr.Income.DisplayCode {
		t.Fatalf("legs do not share a correlator")
	}
	if _, corr, err := core.DecodeTransferTags(tr.Expense.Tags); err != nil || corr != tr.Correlator {
		t.Fatalf("expense tags: %v, corr %q", err, corr)
	}
}

func TestCrossCurrencyConversion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "c", "EUR", 1000)

	c := New(store)
	tr, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "c",
		Amount:        core.Money{Units: 5000},
		Rate:          decimal.RequireFromString("0.90"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if tr.Income.Amount.Units != 4500 {
		t.Fatalf("credit leg = %d, want 4500", tr.Income.Amount.Units)
	}
	if tr.Income.Currency != "EUR" || tr.Expense.Currency != "USD" {
		t.Fatalf("leg currencies wrong: %s / %s", tr.Expense.Currency, tr.Income.Currency)
	}
	if got := balanceOf(t, store, "a"); got != 5000 {
		t.Fatalf("balance(a) = %d, want 5000", got)
	}
	if got := balanceOf(t, store, "c"); got != 5500 {
		t.Fatalf("balance(c) = %d, want 5500", got)
	}
}

func TestCrossCurrencyRoundsAtDestinationPrecision(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 100000)
	seedAccount(t, store, "j", "JPY", 0)

	c := New(store)
	tr, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "j",
		Amount:        core.Money{Units: 1001}, // 10.01 USD
		Rate:          decimal.RequireFromString("149.55"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	// 10.01 * 149.55 = 1497.00 (rounded to yen, exponent 0)
	if tr.Income.Amount.Units != 1497 {
		t.Fatalf("credit leg = %d JPY, want 1497", tr.Income.Amount.Units)
	}
}

func TestInsufficientFundsRejectedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)

	c := New(store)
	_, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 15000},
		Rate:          decimal.NewFromInt(1),
	})
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	txs, _ := store.ListTransactions(ctx, "", gateway.Filter{})
	if len(txs) != 0 {
		t.Fatalf("rejection wrote %d transactions", len(txs))
	}
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)
	seedAccount(t, store, "e", "EUR", 0)
	inactive := seedAccount(t, store, "z", "USD", 0)
	inactive.Active = false
	if err := store.UpdateAccount(ctx, inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	c := New(store)
	one := decimal.NewFromInt(1)
	amount := core.Money{Units: 100}

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"self transfer", Request{FromAccountID: "a", ToAccountID: "a", Amount: amount, Rate: one}, core.ErrInvalidAccountPair},
		{"missing destination", Request{FromAccountID: "a", ToAccountID: "ghost", Amount: amount, Rate: one}, core.ErrInvalidAccountPair},
		{"inactive destination", Request{FromAccountID: "a", ToAccountID: "z", Amount: amount, Rate: one}, core.ErrInvalidAccountPair},
		{"zero amount", Request{FromAccountID: "a", ToAccountID: "b", Amount: core.Money{}, Rate: one}, core.ErrInvalidAmount},
		{"same currency rate != 1", Request{FromAccountID: "a", ToAccountID: "b", Amount: amount, Rate: decimal.RequireFromString("1.01")}, core.ErrInvalidExchangeRate},
		{"zero rate cross currency", Request{FromAccountID: "a", ToAccountID: "e", Amount: amount, Rate: decimal.Zero}, core.ErrInvalidExchangeRate},
		{"rate at upper bound", Request{FromAccountID: "a", ToAccountID: "e", Amount: amount, Rate: decimal.NewFromInt(10000)}, core.ErrInvalidExchangeRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Commit(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	txs, _ := store.ListTransactions(ctx, "", gateway.Filter{})
	if len(txs) != 0 {
		t.Fatalf("rejections wrote %d transactions", len(txs))
	}
}

func TestCompensationRestoresSourceBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)

	boom := errors.New("gateway write failed")
	store.FailInsertsAfter(1, 1, boom) // debit passes, credit fails, reversal passes

	c := New(noTx{store})
	_, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 4000},
		Rate:          decimal.NewFromInt(1),
	})

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("want IncompleteError, got %v", err)
	}
	if !incomplete.Compensated {
		t.Fatalf("expected compensated transfer: %v", incomplete)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("IncompleteError should wrap the credit failure")
	}

	if got := balanceOf(t, store, "a"); got != 10000 {
		t.Fatalf("balance(a) = %d after compensation, want 10000", got)
	}
	if got := balanceOf(t, store, "b"); got != 0 {
		t.Fatalf("balance(b) = %d, want 0", got)
	}

	// Read-side: the reversed pair must surface as a partial transfer,
	// never as a completed one.
	txs, _ := store.ListTransactions(ctx, "", gateway.Filter{})
	rec := Reconstruct(txs)
	if len(rec.Complete) != 0 {
		t.Fatalf("reversed transfer reconstructed as complete")
	}
	if len(rec.Partial) != 1 {
		t.Fatalf("partial groups = %d, want 1", len(rec.Partial))
	}
}

func TestCompensationFailureReportsOrphanedLeg(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)

	boom := errors.New("gateway down")
	store.FailInsertsAfter(1, 0, boom) // debit passes, everything after fails

	c := New(noTx{store})
	_, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 4000},
		Rate:          decimal.NewFromInt(1),
	})

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("want IncompleteError, got %v", err)
	}
	if incomplete.Compensated {
		t.Fatalf("compensation should have failed")
	}
	if incomplete.CommittedLegID == "" || incomplete.CompensationErr == nil {
		t.Fatalf("orphaned-leg detail missing: %+v", incomplete)
	}
}

func TestTxScopeRollsBackBothLegs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)

	boom := errors.New("constraint violation")
	store.FailInsertsAfter(1, 0, boom) // credit leg fails inside the scope

	c := New(store)
	_, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 4000},
		Rate:          decimal.NewFromInt(1),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}

	store.ClearInsertFailure()
	txs, _ := store.ListTransactions(ctx, "", gateway.Filter{})
	if len(txs) != 0 {
		t.Fatalf("transaction scope left %d legs behind", len(txs))
	}
	if got := balanceOf(t, store, "a"); got != 10000 {
		t.Fatalf("balance(a) = %d, want 10000", got)
	}
}

func TestCancelledContextWritesNothing(t *testing.T) {
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "b", "USD", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(noTx{store})
	_, err := c.Commit(ctx, Request{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        core.Money{Units: 100},
		Rate:          decimal.NewFromInt(1),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	txs, _ := store.ListTransactions(context.Background(), "", gateway.Filter{})
	if len(txs) != 0 {
		t.Fatalf("cancelled commit wrote %d transactions", len(txs))
	}
}

func TestDPSTransferRequiresLinkage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "a", "USD", 10000)
	seedAccount(t, store, "s", "USD", 0)

	c := New(store)
	req := Request{
		FromAccountID: "a",
		ToAccountID:   "s",
		Amount:        core.Money{Units: 1000},
		Rate:          decimal.NewFromInt(1),
		Kind:          core.KindDPSTransfer,
	}
	if _, err := c.Commit(ctx, req); !errors.Is(err, core.ErrInvalidAccountPair) {
		t.Fatalf("unlinked dps transfer should fail, got %v", err)
	}

	// Link and retry.
	acc, _ := store.GetAccount(ctx, "a")
	acc.HasDPS = true
	acc.DPSSavingsAccountID = "s"
	if err := store.UpdateAccount(ctx, acc); err != nil {
		t.Fatalf("link: %v", err)
	}

	tr, err := c.Commit(ctx, req)
	if err != nil {
		t.Fatalf("linked dps transfer: %v", err)
	}
	if tr.Kind != core.KindDPSTransfer {
		t.Fatalf("kind = %s", tr.Kind)
	}

	recs, err := store.ListDPSTransfers(ctx, "a")
	if err != nil {
		t.Fatalf("list dps transfers: %v", err)
	}
	if len(recs) != 1 || recs[0].Direction != core.DirectionContribution {
		t.Fatalf("dps log = %+v", recs)
	}

	// Withdrawal direction: sub-account back to primary.
	wr, err := c.Commit(ctx, Request{
		FromAccountID: "s",
		ToAccountID:   "a",
		Amount:        core.Money{Units: 500},
		Rate:          decimal.NewFromInt(1),
		Kind:          core.KindDPSTransfer,
	})
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	recs, _ = store.ListDPSTransfers(ctx, "s")
	if len(recs) != 2 {
		t.Fatalf("dps log entries = %d, want 2", len(recs))
	}
	var withdrawal *core.DPSTransferRecord
	for i := range recs {
		if recs[i].Correlator == wr.Correlator {
			withdrawal = &recs[i]
		}
	}
	if withdrawal == nil || withdrawal.Direction != core.DirectionWithdrawal {
		t.Fatalf("withdrawal record = %+v", withdrawal)
	}
}

func TestReconstruct(t *testing.T) {
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, account string, typ core.TransactionType, tags []string, seq int64) core.Transaction {
		return core.Transaction{
			ID: id, AccountID: account, Type: typ,
			Amount: core.Money{Units: 100}, Currency: "USD",
			Date: day, Tags: tags, Seq: seq,
		}
	}

	txs := []core.Transaction{
		mk("e1", "x", core.Expense, core.EncodeTransferTags(core.KindTransfer, "ok"), 1),
		mk("i1", "y", core.Income, core.EncodeTransferTags(core.KindTransfer, "ok"), 2),
		mk("e2", "x", core.Expense, core.EncodeTransferTags(core.KindTransfer, "lonely"), 3),
		mk("e3", "x", core.Expense, core.EncodeTransferTags(core.KindTransfer, "mixed"), 4),
		mk("i3", "y", core.Income, core.EncodeTransferTags(core.KindDPSTransfer, "mixed"), 5),
		// reversed pair: both legs on the source account
		mk("e4", "x", core.Expense, core.EncodeTransferTags(core.KindTransfer, "undone"), 6),
		mk("i4", "x", core.Income, core.EncodeTransferTags(core.KindTransfer, "undone"), 7),
		mk("p1", "x", core.Income, []string{"groceries"}, 8), // not a leg
		mk("m1", "x", core.Income, []string{"v1", "transfer", ""}, 9),
	}

	rec := Reconstruct(txs)
	if len(rec.Complete) != 1 || rec.Complete[0].Correlator != "ok" {
		t.Fatalf("complete = %+v", rec.Complete)
	}
	if _, ok := rec.Partial["lonely"]; !ok {
		t.Fatalf("lone leg not surfaced as partial")
	}
	if legs, ok := rec.Partial["mixed"]; !ok || len(legs) != 2 {
		t.Fatalf("mixed-kind group not surfaced as partial: %+v", rec.Partial)
	}
	if legs, ok := rec.Partial["undone"]; !ok || len(legs) != 2 {
		t.Fatalf("reversed pair not surfaced as partial: %+v", rec.Partial)
	}
	if len(rec.Malformed) != 1 || rec.Malformed[0].ID != "m1" {
		t.Fatalf("malformed = %+v", rec.Malformed)
	}
}
