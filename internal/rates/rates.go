// Package rates supplies currency-pair exchange rates.
//
// The engine consumes the Provider port only; implementations are a remote
// JSON API client, a static fallback table of common pairs, and a caching
// wrapper. All implementations guarantee a returned rate is positive and
// finite - a provider that cannot do so must return an error instead.
package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
)

var ErrUnknownPair = errors.New("unknown currency pair")

// Provider resolves the conversion rate from one currency to another.
type Provider interface {
	Rate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error)
}

// validateRate rejects rates the engine must never see.
func validateRate(r decimal.Decimal) error {
	if r.Sign() <= 0 {
		return core.ErrInvalidExchangeRate
	}
	return nil
}

// Static resolves rates from a fixed table. It answers same-currency pairs
// with exactly 1 and falls back to the reciprocal for reversed pairs.
type Static struct {
	table map[string]decimal.Decimal
}

// defaultPairs are the shipped fallback rates for common pairs.
var defaultPairs = map[string]string{
	"USD/EUR": "0.92",
	"USD/GBP": "0.79",
	"USD/JPY": "149.50",
	"USD/BDT": "119.00",
	"USD/INR": "83.20",
	"USD/CAD": "1.36",
	"USD/AUD": "1.52",
	"EUR/GBP": "0.86",
	"EUR/JPY": "162.40",
	"GBP/JPY": "189.20",
}

// NewStatic builds the static fallback provider from the shipped table.
func NewStatic() *Static {
	s := &Static{table: make(map[string]decimal.Decimal, len(defaultPairs))}
	for pair, rate := range defaultPairs {
		s.table[pair] = decimal.RequireFromString(rate)
	}
	return s
}

// NewStaticFromTable builds a static provider from caller-supplied pairs,
// keyed "FROM/TO". Non-positive rates are rejected.
func NewStaticFromTable(pairs map[string]decimal.Decimal) (*Static, error) {
	s := &Static{table: make(map[string]decimal.Decimal, len(pairs))}
	for pair, rate := range pairs {
		if err := validateRate(rate); err != nil {
			return nil, fmt.Errorf("pair %s: %w", pair, err)
		}
		s.table[pair] = rate
	}
	return s, nil
}

func (s *Static) Rate(_ context.Context, from, to core.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s.table[pairKey(from, to)]; ok {
		return r, nil
	}
	if r, ok := s.table[pairKey(to, from)]; ok {
		// Reciprocal of the reverse pair; 12 digits is plenty for display
		// rates and still well inside a sane bound.
		return decimal.NewFromInt(1).DivRound(r, 12), nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s/%s", ErrUnknownPair, from, to)
}

func pairKey(from, to core.Currency) string {
	return string(from) + "/" + string(to)
}

// Fallback tries the primary provider first and falls back to the secondary
// when the primary fails for any reason.
type Fallback struct {
	primary   Provider
	secondary Provider
}

func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Rate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error) {
	r, err := f.primary.Rate(ctx, from, to)
	if err == nil {
		if err := validateRate(r); err == nil {
			return r, nil
		}
	}
	return f.secondary.Rate(ctx, from, to)
}
