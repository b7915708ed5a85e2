package strike

import (
	"testing"
	"time"
)

func TestParseSymbolRoundTrip(t *testing.T) {
	s := NewBankNifty(30)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	c, err := s.Pick(5960000, 7.5, OptionCE, now)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}

	parsed, err := ParseSymbol(c.Symbol)
	if err != nil {
		t.Fatalf("ParseSymbol(%s): %v", c.Symbol, err)
	}
	if parsed.Underlying != "BANKNIFTY" {
		t.Errorf("underlying = %s", parsed.Underlying)
	}
	if parsed.Strike != c.Strike {
		t.Errorf("strike = %d, want %d", parsed.Strike, c.Strike)
	}
	if parsed.Type != OptionCE {
		t.Errorf("type = %s, want CE", parsed.Type)
	}
	y, m, d := parsed.Expiry.Date()
	ey, em, ed := c.Expiry.Date()
	if y != ey || m != em || d != ed {
		t.Errorf("expiry = %v, want %v", parsed.Expiry, c.Expiry)
	}
}

func TestParseSymbolPut(t *testing.T) {
	c, err := ParseSymbol("BANKNIFTY24FEB26P59400")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if c.Type != OptionPE || c.Strike != 59400 {
		t.Errorf("got %+v", c)
	}
	if c.Expiry.Month() != time.February || c.Expiry.Day() != 24 || c.Expiry.Year() != 2026 {
		t.Errorf("expiry = %v", c.Expiry)
	}
}

func TestParseSymbolRejectsGarbage(t *testing.T) {
	for _, sym := range []string{"", "BANKNIFTY", "27JAN26C59700", "BANKNIFTY27JAN26X59700", "BANKNIFTY27JAN26C", "BANKNIFTY27ZZZ26C59700"} {
		if _, err := ParseSymbol(sym); err == nil {
			t.Errorf("ParseSymbol(%q) did not fail", sym)
		}
	}
}
