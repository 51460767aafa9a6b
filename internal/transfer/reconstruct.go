package transfer

import (
	"sort"

	"finledger/internal/core"
)

// Reconstruction is the read-side view over a transaction set: legs grouped
// by correlator into completed transfers, groups that do not pair up, and
// transactions whose tags claim to be legs but fail to decode.
type Reconstruction struct {
	Complete []core.Transfer
	// Partial holds inconsistent groups keyed by correlator: a lone leg, a
	// reversed transfer, or mismatched kinds. Consumers must surface these
	// distinctly, never as ordinary transactions.
	Partial map[string][]core.Transaction
	// Malformed transactions carry a transfer marker with undecodable tags.
	// They indicate a writer bug and are reported, never coerced.
	Malformed []core.Transaction
}

// Reconstruct groups transfer legs by correlator. A group of exactly one
// expense and one income leg of the same kind, on two distinct accounts, is a
// completed transfer; anything else lands in Partial. A compensated transfer
// pairs up type-wise but has both legs on the source account, which is why
// the distinct-account check matters. Transactions without transfer tags are
// ignored.
func Reconstruct(txs []core.Transaction) Reconstruction {
	type leg struct {
		tx   core.Transaction
		kind core.TransferKind
	}
	groups := make(map[string][]leg)
	rec := Reconstruction{Partial: make(map[string][]core.Transaction)}

	for _, tx := range txs {
		if !core.IsTransferLeg(tx.Tags) {
			continue
		}
		kind, correlator, err := core.DecodeTransferTags(tx.Tags)
		if err != nil {
			rec.Malformed = append(rec.Malformed, tx)
			continue
		}
		groups[correlator] = append(groups[correlator], leg{tx: tx, kind: kind})
	}

	for correlator, legs := range groups {
		if len(legs) == 2 && legs[0].kind == legs[1].kind {
			var expense, income *core.Transaction
			for i := range legs {
				switch legs[i].tx.Type {
				case core.Expense:
					expense = &legs[i].tx
				case core.Income:
					income = &legs[i].tx
				}
			}
			if expense != nil && income != nil && expense.AccountID != income.AccountID {
				rec.Complete = append(rec.Complete, core.Transfer{
					Correlator: correlator,
					Kind:       legs[0].kind,
					Expense:    *expense,
					Income:     *income,
				})
				continue
			}
		}
		for _, l := range legs {
			rec.Partial[correlator] = append(rec.Partial[correlator], l.tx)
		}
	}

	sort.Slice(rec.Complete, func(i, j int) bool {
		return rec.Complete[i].Expense.Seq < rec.Complete[j].Expense.Seq
	})
	return rec
}
