package symbol

import (
	"errors"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	reg := Default()
	s, err := reg.Lookup("EURUSD")
	if err != nil {
		t.Fatalf("Lookup(EURUSD): %v", err)
	}
	if s.BasePrice != 1.0850 {
		t.Errorf("EURUSD base price = %f, want 1.0850", s.BasePrice)
	}
	if s.Decimals != 5 {
		t.Errorf("EURUSD decimals = %d, want 5", s.Decimals)
	}
}

func TestRegistryUnknownSymbol(t *testing.T) {
	reg := Default()
	_, err := reg.Lookup("XXXYYY")
	if err == nil {
		t.Fatal("Lookup(XXXYYY) should fail")
	}
	var unknown *UnknownError
	if !errors.As(err, &unknown) {
		t.Fatalf("error type = %T, want *UnknownError", err)
	}
	if unknown.Code != "XXXYYY" {
		t.Errorf("error code = %q, want XXXYYY", unknown.Code)
	}
}

func TestYenPairPrecision(t *testing.T) {
	reg := Default()
	s, err := reg.Lookup("USDJPY")
	if err != nil {
		t.Fatalf("Lookup(USDJPY): %v", err)
	}
	if s.Decimals != 3 {
		t.Errorf("USDJPY decimals = %d, want 3", s.Decimals)
	}
	if got := s.Pip(); got != 0.01 {
		t.Errorf("USDJPY pip = %f, want 0.01", got)
	}
}

func TestRound(t *testing.T) {
	s := Symbol{Code: "EURUSD", Decimals: 5}
	cases := []struct {
		in, want float64
	}{
		{1.085004, 1.08500},
		{1.085005, 1.08501},
		{1.0850049999, 1.08500},
	}
	for _, c := range cases {
		if got := s.Round(c.in); got != c.want {
			t.Errorf("Round(%.7f) = %.7f, want %.7f", c.in, got, c.want)
		}
	}
}

func TestAllSymbolsHaveSaneMetadata(t *testing.T) {
	for _, s := range All() {
		if s.Code == "" || len(s.Code) != 6 {
			t.Errorf("symbol %q: code must be 6 chars", s.Code)
		}
		if s.BasePrice <= 0 {
			t.Errorf("%s: base price %f must be positive", s.Code, s.BasePrice)
		}
		if s.TypicalSpread <= 0 {
			t.Errorf("%s: typical spread %f must be positive", s.Code, s.TypicalSpread)
		}
		if s.LotStep <= 0 {
			t.Errorf("%s: lot step %f must be positive", s.Code, s.LotStep)
		}
	}
}

func TestCodesOrder(t *testing.T) {
	reg := Default()
	codes := reg.Codes()
	if len(codes) != len(All()) {
		t.Fatalf("Codes() returned %d entries, want %d", len(codes), len(All()))
	}
	for i, s := range All() {
		if codes[i] != s.Code {
			t.Errorf("codes[%d] = %s, want %s", i, codes[i], s.Code)
		}
	}
}
