package ledger

import (
	"math/rand"
	"testing"
	"time"

	"finledger/internal/core"
)

func usdAccount(initial int64) core.Account {
	return core.Account{
		ID:             "acc-1",
		Name:           "Main",
		Type:           core.AccountBank,
		Currency:       "USD",
		InitialBalance: core.Money{Units: initial},
		Active:         true,
	}
}

func tx(id string, accountID string, typ core.TransactionType, units int64, date time.Time, seq int64) core.Transaction {
	return core.Transaction{
		ID:        id,
		AccountID: accountID,
		Type:      typ,
		Amount:    core.Money{Units: units},
		Currency:  "USD",
		Date:      date,
		Seq:       seq,
	}
}

func TestBalanceAdditivity(t *testing.T) {
	acc := usdAccount(10000)
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	txs := []core.Transaction{
		tx("t1", "acc-1", core.Income, 5000, day(1), 1),
		tx("t2", "acc-1", core.Expense, 1200, day(2), 2),
		tx("t3", "acc-1", core.Expense, 800, day(2), 3),
		tx("t4", "acc-1", core.Income, 300, day(5), 4),
	}

	got := BalanceAt(acc, txs, day(31))
	want := int64(10000 + 5000 - 1200 - 800 + 300)
	if got.Units != want {
		t.Fatalf("balance = %d, want %d", got.Units, want)
	}
}

func TestBalanceDeterministicUnderPermutation(t *testing.T) {
	acc := usdAccount(0)
	day := func(d int) time.Time { return time.Date(2025, 2, d, 0, 0, 0, 0, time.UTC) }

	txs := []core.Transaction{
		tx("t1", "acc-1", core.Income, 100, day(1), 1),
		tx("t2", "acc-1", core.Income, 250, day(1), 2),
		tx("t3", "acc-1", core.Expense, 40, day(3), 3),
		tx("t4", "acc-1", core.Income, 999, day(3), 4),
		tx("t5", "acc-1", core.Expense, 1, day(7), 5),
	}

	want := BalanceAt(acc, txs, day(28))
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]core.Transaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := BalanceAt(acc, shuffled, day(28)); got != want {
			t.Fatalf("permutation %d: balance = %d, want %d", i, got.Units, want.Units)
		}
	}
}

func TestBalanceAtCutoff(t *testing.T) {
	acc := usdAccount(1000)
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	txs := []core.Transaction{
		tx("t1", "acc-1", core.Income, 500, day(10), 1),
		tx("t2", "acc-1", core.Expense, 200, day(20), 2),
	}

	cases := []struct {
		asOf time.Time
		want int64
	}{
		{day(5), 1000},
		{day(10), 1500}, // same-day transactions are included
		{day(15), 1500},
		{day(20), 1300},
		{day(25), 1300},
	}
	for i, tc := range cases {
		if got := BalanceAt(acc, txs, tc.asOf); got.Units != tc.want {
			t.Fatalf("case %d: balance = %d, want %d", i, got.Units, tc.want)
		}
	}
}

func TestBalanceExcludesOtherAccounts(t *testing.T) {
	acc := usdAccount(0)
	day := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	txs := []core.Transaction{
		tx("t1", "acc-1", core.Income, 100, day, 1),
		tx("t2", "acc-2", core.Income, 9999, day, 2), // silently excluded, not an error
	}

	if got := BalanceAt(acc, txs, day); got.Units != 100 {
		t.Fatalf("balance = %d, want 100", got.Units)
	}
}

func TestBalanceDoesNotMutateInput(t *testing.T) {
	acc := usdAccount(0)
	day := func(d int) time.Time { return time.Date(2025, 5, d, 0, 0, 0, 0, time.UTC) }

	txs := []core.Transaction{
		tx("t2", "acc-1", core.Income, 2, day(2), 2),
		tx("t1", "acc-1", core.Income, 1, day(1), 1),
	}
	BalanceAt(acc, txs, day(28))
	if txs[0].ID != "t2" || txs[1].ID != "t1" {
		t.Fatalf("input slice was reordered")
	}
}

func TestCurrentBalanceIncludesPastOnly(t *testing.T) {
	acc := usdAccount(500)
	txs := []core.Transaction{
		tx("t1", "acc-1", core.Income, 100, time.Now().Add(-time.Hour), 1),
		tx("t2", "acc-1", core.Expense, 9999, time.Now().Add(24*time.Hour), 2), // future-dated
	}
	if got := CurrentBalance(acc, txs); got.Units != 600 {
		t.Fatalf("balance = %d, want 600", got.Units)
	}
}
