package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in    string
		cur   Currency
		units int64
		ok    bool
	}{
		{"12.34", "USD", 1234, true},
		{"12,34", "USD", 1234, true},
		{"12.345", "USD", 1235, true}, // half-up
		{"12.344", "USD", 1234, true},
		{"100", "JPY", 100, true},
		{"1.5", "JPY", 2, true}, // yen has no minor units
		{"1.2345", "BHD", 1235, true},
		{"0", "USD", 0, false},
		{"-5", "USD", 0, false},
		{"+5", "USD", 0, false},
		{"", "USD", 0, false},
		{"abc", "USD", 0, false},
	}
	for i, tc := range cases {
		m, err := ParseDecimal(tc.in, tc.cur)
		if tc.ok && err != nil {
			t.Fatalf("case %d (%q): expected ok, got %v", i, tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d (%q): expected error", i, tc.in)
		}
		if tc.ok && m.Units != tc.units {
			t.Fatalf("case %d (%q): got %d units, want %d", i, tc.in, m.Units, tc.units)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Units: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Units: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Units: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestConvert(t *testing.T) {
	cases := []struct {
		name     string
		units    int64
		rate     string
		from, to Currency
		want     int64
	}{
		{"same currency identity", 4000, "1", "USD", "USD", 4000},
		{"usd to eur", 5000, "0.90", "USD", "EUR", 4500},
		{"rounds half up at destination", 1001, "0.5555", "USD", "EUR", 556},
		{"usd to jpy drops minor units", 1050, "150", "USD", "JPY", 1575},
		{"usd to bhd gains precision", 100, "0.3765", "USD", "BHD", 377},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, _ := decimal.NewFromString(tc.rate)
			got, err := Convert(Money{Units: tc.units}, rate, tc.from, tc.to)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Units != tc.want {
				t.Fatalf("got %d, want %d", got.Units, tc.want)
			}
		})
	}
}

func TestConvertRejectsNonPositiveRate(t *testing.T) {
	for _, rate := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := Convert(Money{Units: 100}, rate, "USD", "EUR"); err == nil {
			t.Fatalf("expected error for rate %s", rate)
		}
	}
}

func TestCurrencyExponent(t *testing.T) {
	if got := Currency("USD").Exponent(); got != 2 {
		t.Fatalf("USD exponent = %d, want 2", got)
	}
	if got := Currency("JPY").Exponent(); got != 0 {
		t.Fatalf("JPY exponent = %d, want 0", got)
	}
	if got := Currency("KWD").Exponent(); got != 3 {
		t.Fatalf("KWD exponent = %d, want 3", got)
	}
}

func TestCurrencyValidate(t *testing.T) {
	if err := Currency("USD").Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, bad := range []Currency{"", "US", "usd", "USDX", "U$D"} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestMoneyFormat(t *testing.T) {
	if got := (Money{Units: 1234}).Format("USD"); got != "12.34 USD" {
		t.Fatalf("got %q", got)
	}
	if got := (Money{Units: 1234}).Format("JPY"); got != "1234 JPY" {
		t.Fatalf("got %q", got)
	}
}
