package session

import (
	"testing"

	"github.com/ndrandal/fx-trader/internal/symbol"
)

func newTestManager() *Manager {
	return NewManager(symbol.Default(), 100)
}

func TestResolveSymbolsSpecific(t *testing.T) {
	m := newTestManager()
	codes, all := m.ResolveSymbols([]string{"EURUSD", "USDJPY"})
	if all {
		t.Fatal("should not be all")
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(codes))
	}
}

func TestResolveSymbolsWildcard(t *testing.T) {
	m := newTestManager()
	codes, all := m.ResolveSymbols([]string{"*"})
	if !all {
		t.Fatal("wildcard should set all=true")
	}
	if codes != nil {
		t.Fatalf("wildcard should return nil codes, got %v", codes)
	}
}

func TestResolveSymbolsUnknown(t *testing.T) {
	m := newTestManager()
	codes, all := m.ResolveSymbols([]string{"ZZZZZZ"})
	if all {
		t.Fatal("should not be all")
	}
	if len(codes) != 0 {
		t.Fatalf("expected 0 codes for unknown symbol, got %d", len(codes))
	}
}

func TestResolveSymbolsMixed(t *testing.T) {
	m := newTestManager()
	codes, all := m.ResolveSymbols([]string{"EURUSD", "ZZZZZZ", "EURJPY"})
	if all {
		t.Fatal("should not be all")
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes (EURUSD + EURJPY), got %d", len(codes))
	}
}

func TestResolveSymbolsWildcardShortCircuits(t *testing.T) {
	m := newTestManager()
	codes, all := m.ResolveSymbols([]string{"EURUSD", "*", "EURJPY"})
	if !all {
		t.Fatal("wildcard should short-circuit to all=true")
	}
	if codes != nil {
		t.Fatalf("wildcard should return nil codes, got %v", codes)
	}
}
