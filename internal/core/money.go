// Package core provides the domain model for the ledger and transfer engine.
//
// This file contains money handling: amounts are stored as integer minor units
// of their account's currency so that balance folds are exact, while rate and
// percentage math goes through decimal arithmetic.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217-like currency code, e.g. "USD".
type Currency string

// currencyExponents lists currencies whose minor-unit exponent differs from
// the common 2. Unknown codes default to 2.
var currencyExponents = map[Currency]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// Exponent returns the number of minor-unit digits for the currency.
func (c Currency) Exponent() int32 {
	if exp, ok := currencyExponents[c]; ok {
		return exp
	}
	return 2
}

func (c Currency) Validate() error {
	s := string(c)
	if len(s) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
		}
	}
	return nil
}

// Money is an amount in integer minor units of some currency. The owning
// entity (account or transaction) carries the currency; Money itself is just
// the exact magnitude.
type Money struct {
	Units int64
}

func (m Money) Add(o Money) Money { return Money{Units: m.Units + o.Units} }
func (m Money) Sub(o Money) Money { return Money{Units: m.Units - o.Units} }

func (m Money) IsZero() bool     { return m.Units == 0 }
func (m Money) IsPositive() bool { return m.Units > 0 }
func (m Money) IsNegative() bool { return m.Units < 0 }

// Decimal returns the amount as a decimal in major units of cur.
func (m Money) Decimal(cur Currency) decimal.Decimal {
	return decimal.New(m.Units, -cur.Exponent())
}

// Format renders the amount for display, e.g. "12.34 USD".
func (m Money) Format(cur Currency) string {
	return m.Decimal(cur).StringFixed(cur.Exponent()) + " " + string(cur)
}

func (m Money) Validate() error {
	if m.Units <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseDecimal converts a decimal string to minor units of cur with half-up
// rounding past the currency's precision. Accepts both dot and comma decimal
// separators. Returns an error for invalid formats or non-positive values.
//
// Examples (USD):
//
//	ParseDecimal("12.34", "USD")  -> Money{1234}, nil
//	ParseDecimal("12,34", "USD")  -> Money{1234}, nil
//	ParseDecimal("12.345", "USD") -> Money{1235}, nil (rounds up)
func ParseDecimal(s string, cur Currency) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m, err := FromDecimal(d, cur)
	if err != nil {
		return Money{}, err
	}
	if m.Units <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// FromDecimal converts a major-unit decimal to minor units of cur, rounding
// half-up at the currency's precision.
func FromDecimal(d decimal.Decimal, cur Currency) (Money, error) {
	exp := cur.Exponent()
	units := d.Round(exp).Shift(exp)
	if !units.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidAmount, d)
	}
	if !units.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d)
	}
	return Money{Units: units.IntPart()}, nil
}

// Convert applies an exchange rate to an amount held in from-currency and
// returns the equivalent amount in to-currency, rounded half-up at the
// destination currency's minor-unit precision.
func Convert(m Money, rate decimal.Decimal, from, to Currency) (Money, error) {
	if rate.Sign() <= 0 {
		return Money{}, ErrInvalidExchangeRate
	}
	return FromDecimal(m.Decimal(from).Mul(rate), to)
}
