package money

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestToMinor(t *testing.T) {
	cases := []struct {
		amount json.Number
		code   string
		want   int64
	}{
		{amount: "10.5", code: "USD", want: 1050},
		{amount: "10.005", code: "USD", want: 1001},
		{amount: "-10.005", code: "USD", want: -1001},
		{amount: "0.004", code: "EUR", want: 0},
		{amount: "1500", code: "JPY", want: 1500},
		{amount: "1e2", code: "GBP", want: 10000},
		{amount: "7.25", code: "", want: 725},
		{amount: "", code: "USD", want: 0},
	}
	for _, tc := range cases {
		got, err := ToMinor(tc.amount, tc.code)
		if err != nil {
			t.Fatalf("ToMinor(%q, %s): %v", tc.amount, tc.code, err)
		}
		if got != tc.want {
			t.Fatalf("ToMinor(%q, %s): expected %d, got %d", tc.amount, tc.code, tc.want, got)
		}
	}
}

func TestToMinorErrors(t *testing.T) {
	if _, err := ToMinor("abc", "USD"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := ToMinor("1", "XYZW"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected unknown currency, got %v", err)
	}
	if _, err := ToMinor("100000000000000000000", "USD"); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestFromMinor(t *testing.T) {
	cases := []struct {
		minor int64
		code  string
		want  json.Number
	}{
		{minor: 1050, code: "USD", want: "10.50"},
		{minor: -5, code: "EUR", want: "-0.05"},
		{minor: 1500, code: "JPY", want: "1500"},
		{minor: 0, code: "", want: "0.00"},
	}
	for _, tc := range cases {
		got, err := FromMinor(tc.minor, tc.code)
		if err != nil {
			t.Fatalf("FromMinor(%d, %s): %v", tc.minor, tc.code, err)
		}
		if got != tc.want {
			t.Fatalf("FromMinor(%d, %s): expected %s, got %s", tc.minor, tc.code, tc.want, got)
		}
	}
}

func TestExactMinor(t *testing.T) {
	got, err := ExactMinor("99.99", "USD")
	if err != nil || got != 9999 {
		t.Fatalf("expected 9999, got %d (%v)", got, err)
	}
	if got, err := ExactMinor("1500", "JPY"); err != nil || got != 1500 {
		t.Fatalf("expected 1500, got %d (%v)", got, err)
	}
	if got, err := ExactMinor("", "USD"); err != nil || got != 0 {
		t.Fatalf("expected zero for empty amount, got %d (%v)", got, err)
	}
	for _, amount := range []json.Number{"99.995", "10.001", "0.5e-2"} {
		if _, err := ExactMinor(amount, "USD"); !errors.Is(err, ErrPrecision) {
			t.Fatalf("ExactMinor(%q): expected precision error, got %v", amount, err)
		}
	}
	if _, err := ExactMinor("1.5", "JPY"); !errors.Is(err, ErrPrecision) {
		t.Fatalf("expected precision error for JPY fraction, got %v", err)
	}
	if _, err := ExactMinor("100000000000000000000", "USD"); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}
