package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{"12.344", "12.34", true},
		{" 2.50 ", "2.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.001", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestCentsRoundTrip(t *testing.T) {
	cases := map[string]int64{
		"0":      0,
		"1":      100,
		"333.33": 33333,
		"0.005":  1,
		"-12.5":  -1250,
	}
	for in, cents := range cases {
		d := decimal.RequireFromString(in)
		if got := ToCents(d); got != cents {
			t.Errorf("ToCents(%s) = %d, want %d", in, got, cents)
		}
	}
	if got := FromCents(33333); !got.Equal(decimal.RequireFromString("333.33")) {
		t.Errorf("FromCents(33333) = %s", got)
	}
}

func TestFormatMoney(t *testing.T) {
	if got := FormatMoney(decimal.NewFromInt(100)); got != "100.00" {
		t.Errorf("FormatMoney(100) = %q", got)
	}
	if got := FormatMoney(decimal.RequireFromString("-500")); got != "-500.00" {
		t.Errorf("FormatMoney(-500) = %q", got)
	}
}
