package journal

import (
	"context"
	"testing"
)

// The journal is optional everywhere it is wired; a nil receiver must be a
// safe no-op so callers never branch on its presence.
func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	ctx := context.Background()

	j.RecordOrder(ctx, OrderRecord{Symbol: "BTCUSDT", Side: "Buy", Action: "open"})
	j.RecordStopEvent(ctx, StopRecord{Symbol: "BTCUSDT", Side: "Buy", Event: "created"})
	j.Close()

	orders, err := j.RecentOrders(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOrders on nil journal: %v", err)
	}
	if orders != nil {
		t.Errorf("orders = %v, want nil", orders)
	}
}
