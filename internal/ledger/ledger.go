// Package ledger derives account balances from transaction history.
//
// Balances are never stored: they are folded from the account's initial
// balance and its transactions. All functions here are pure - no I/O, no
// clocks beyond the asOf argument - so callers supply the full relevant
// transaction set and get reproducible totals back.
package ledger

import (
	"sort"
	"time"

	"finledger/internal/core"
)

// BalanceAt folds the account's transactions dated at or before asOf onto its
// initial balance, adding income and subtracting expenses.
//
// The input set is sorted internally by date, with the gateway-assigned
// insertion sequence as the tie-break, so any permutation of the same set
// yields the same result. Transactions belonging to other accounts are
// silently excluded; validating the set is the caller's job.
func BalanceAt(account core.Account, transactions []core.Transaction, asOf time.Time) core.Money {
	relevant := make([]core.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx.AccountID != account.ID {
			continue
		}
		if tx.Date.After(asOf) {
			continue
		}
		relevant = append(relevant, tx)
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		if !relevant[i].Date.Equal(relevant[j].Date) {
			return relevant[i].Date.Before(relevant[j].Date)
		}
		return relevant[i].Seq < relevant[j].Seq
	})

	balance := account.InitialBalance
	for _, tx := range relevant {
		balance = balance.Add(tx.Signed())
	}
	return balance
}

// CurrentBalance is BalanceAt with the present instant as the cutoff.
func CurrentBalance(account core.Account, transactions []core.Transaction) core.Money {
	return BalanceAt(account, transactions, time.Now())
}
