package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLineTotal(t *testing.T) {
	cases := []struct {
		name     string
		price    string
		qty      string
		discount string
		want     string
	}{
		{"no discount", "100", "3", "0", "300"},
		{"half discount", "100", "2", "50", "100"},
		{"full discount", "100", "2", "100", "0"},
		{"fractional qty", "10", "1.5", "0", "15"},
		{"rounds to cents", "0.10", "1", "33", "0.07"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := decimal.RequireFromString(tc.price)
			qty := decimal.RequireFromString(tc.qty)
			discount := decimal.RequireFromString(tc.discount)
			got := LineTotal(price, qty, discount)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("LineTotal(%s, %s, %s) = %s, want %s", tc.price, tc.qty, tc.discount, got, tc.want)
			}
		})
	}
}

func TestIsWholeNumber(t *testing.T) {
	if !IsWholeNumber(decimal.NewFromInt(5)) {
		t.Fatal("5 should be whole")
	}
	if !IsWholeNumber(decimal.RequireFromString("5.000")) {
		t.Fatal("5.000 should be whole")
	}
	if IsWholeNumber(decimal.RequireFromString("5.001")) {
		t.Fatal("5.001 should not be whole")
	}
	if IsWholeNumber(decimal.RequireFromString("-0.5")) {
		t.Fatal("-0.5 should not be whole")
	}
}

func TestQuantizeQty(t *testing.T) {
	got := QuantizeQty(decimal.RequireFromString("1.23456"))
	if !got.Equal(decimal.RequireFromString("1.2346")) {
		t.Fatalf("QuantizeQty = %s, want 1.2346", got)
	}
	got = QuantizeQty(decimal.RequireFromString("-0.00005"))
	if !got.Equal(decimal.RequireFromString("-0.0001")) {
		t.Fatalf("QuantizeQty = %s, want -0.0001", got)
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	ts := time.Date(2026, 3, 15, 2, 30, 0, 0, loc) // 2026-03-14 19:30 UTC
	day := DayOf(ts)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !day.Equal(want) {
		t.Fatalf("DayOf = %v, want %v", day, want)
	}
}
