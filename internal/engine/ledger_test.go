package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bybit"
)

func TestLedgerAddGetRemove(t *testing.T) {
	l := NewLedger(zerolog.Nop())
	key := PositionKey{Symbol: "BTCUSDT", Side: "Buy"}

	l.Add(Position{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5, EntryPrice: 50000})

	pos, ok := l.Get(key)
	if !ok {
		t.Fatal("expected the added position")
	}
	if pos.Size != 0.5 {
		t.Errorf("size = %v, want 0.5", pos.Size)
	}
	if pos.OpenedAt.IsZero() {
		t.Error("OpenedAt should be stamped on add")
	}
	if !l.Has(key) {
		t.Error("Has should report the position")
	}

	l.Remove(key)
	if l.Has(key) {
		t.Error("removed position should be gone")
	}
}

func TestLedgerSyncAdoptsExchange(t *testing.T) {
	l := NewLedger(zerolog.Nop())

	l.Sync([]bybit.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5, EntryPrice: 50000},
		{Symbol: "ETHUSDT", Side: "Sell", Size: 2, EntryPrice: 3000},
	})

	if len(l.All()) != 2 {
		t.Fatalf("positions = %d, want 2", len(l.All()))
	}

	// The exchange dropped ETH and changed BTC; the ledger follows.
	l.Sync([]bybit.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Size: 0.3, EntryPrice: 50000, UnrealizedPnl: 120},
	})

	if l.Has(PositionKey{Symbol: "ETHUSDT", Side: "Sell"}) {
		t.Error("position gone from the exchange should be dropped")
	}
	pos, _ := l.Get(PositionKey{Symbol: "BTCUSDT", Side: "Buy"})
	if pos.Size != 0.3 {
		t.Errorf("size after sync = %v, want the exchange's 0.3", pos.Size)
	}
	if pos.UnrealizedPnl != 120 {
		t.Errorf("pnl after sync = %v, want 120", pos.UnrealizedPnl)
	}
}

func TestLedgerSyncKeepsLocalMetadata(t *testing.T) {
	l := NewLedger(zerolog.Nop())
	opened := time.Now().Add(-time.Hour)

	l.Add(Position{
		Symbol:     "BTCUSDT",
		Side:       "Buy",
		Size:       0.5,
		EntryPrice: 50000,
		OrderID:    "order-123",
		OpenedAt:   opened,
	})

	l.Sync([]bybit.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5, EntryPrice: 50000, MarkPrice: 51000},
	})

	pos, ok := l.Get(PositionKey{Symbol: "BTCUSDT", Side: "Buy"})
	if !ok {
		t.Fatal("expected the synced position")
	}
	if pos.OrderID != "order-123" {
		t.Errorf("order id = %q, want preserved order-123", pos.OrderID)
	}
	if !pos.OpenedAt.Equal(opened) {
		t.Errorf("opened at = %v, want preserved %v", pos.OpenedAt, opened)
	}
	if pos.MarkPrice != 51000 {
		t.Errorf("mark price = %v, want the exchange's 51000", pos.MarkPrice)
	}
}

func TestLedgerDistinguishesSides(t *testing.T) {
	l := NewLedger(zerolog.Nop())

	l.Add(Position{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5})
	l.Add(Position{Symbol: "BTCUSDT", Side: "Sell", Size: 0.2})

	if len(l.All()) != 2 {
		t.Fatalf("positions = %d, want a long and a short", len(l.All()))
	}
	l.Remove(PositionKey{Symbol: "BTCUSDT", Side: "Buy"})
	if !l.Has(PositionKey{Symbol: "BTCUSDT", Side: "Sell"}) {
		t.Error("removing the long must not touch the short")
	}
}
