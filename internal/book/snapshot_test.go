package book

import (
	"errors"
	"testing"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Bids: []SnapshotLevel{
			{Price: dec("99"), Orders: []SnapshotOrder{
				{OrderID: "bid1", Quantity: dec("2")},
				{OrderID: "bid2", Quantity: dec("3")},
			}},
			{Price: dec("98"), Orders: []SnapshotOrder{
				{OrderID: "bid3", Quantity: dec("1")},
			}},
		},
		Asks: []SnapshotLevel{
			{Price: dec("101"), Orders: []SnapshotOrder{
				{OrderID: "ask1", Quantity: dec("4")},
			}},
		},
	}
}

func TestLoadPopulatesBook(t *testing.T) {
	b := New("BTCZAR")

	if err := b.Load(sampleSnapshot()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := b.Depth()
	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(snap.Bids))
	}
	if !snap.Bids[0].Price.Equal(dec("99")) || !snap.Bids[0].Quantity.Equal(dec("5")) {
		t.Errorf("expected best bid (99, 5), got (%s, %s)", snap.Bids[0].Price, snap.Bids[0].Quantity)
	}
	if len(snap.Asks) != 1 || !snap.Asks[0].Price.Equal(dec("101")) {
		t.Errorf("unexpected ask side: %+v", snap.Asks)
	}
}

func TestLoadReplacesPriorState(t *testing.T) {
	b := New("BTCZAR")

	b.SubmitLimitOrder(limitOrder("old1", Buy, "50", "10"))
	b.SubmitLimitOrder(limitOrder("old2", Sell, "200", "10"))

	if err := b.Load(sampleSnapshot()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := b.Depth()
	for _, level := range snap.Bids {
		if level.Price.Equal(dec("50")) {
			t.Error("pre-load bid survived the reload")
		}
	}
	for _, level := range snap.Asks {
		if level.Price.Equal(dec("200")) {
			t.Error("pre-load ask survived the reload")
		}
	}
}

func TestLoadPreservesSnapshotTimePriority(t *testing.T) {
	b := New("BTCZAR")

	if err := b.Load(sampleSnapshot()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Partially consume the 99 level: bid1 was listed first and must fill first.
	b.SubmitLimitOrder(limitOrder("taker", Sell, "99", "1"))

	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := b.bids[0].orders
	if orders[0].ID != "bid1" || !orders[0].Quantity.Equal(dec("1")) {
		t.Errorf("expected bid1 partially filled at the head, got %s with %s", orders[0].ID, orders[0].Quantity)
	}
	if orders[1].ID != "bid2" || !orders[1].Quantity.Equal(dec("3")) {
		t.Errorf("expected bid2 untouched, got %s with %s", orders[1].ID, orders[1].Quantity)
	}
}

func TestLoadDoesNotTouchLedger(t *testing.T) {
	b := New("BTCZAR")

	b.SubmitLimitOrder(limitOrder("s", Sell, "100", "1"))
	b.SubmitLimitOrder(limitOrder("b", Buy, "100", "1"))

	if err := b.Load(sampleSnapshot()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if n := len(b.RecentTrades(0)); n != 1 {
		t.Errorf("expected the ledger to survive the reload, got %d trades", n)
	}
	if _, ok := b.Trade("T1"); !ok {
		t.Error("expected T1 to remain after reload")
	}
}

func TestLoadRejectsBadSnapshotWithoutClearing(t *testing.T) {
	b := New("BTCZAR")
	b.SubmitLimitOrder(limitOrder("keep", Buy, "100", "10"))

	bad := Snapshot{
		Bids: []SnapshotLevel{
			{Price: dec("99"), Orders: []SnapshotOrder{{OrderID: "x", Quantity: dec("0")}}},
		},
	}
	err := b.Load(bad)
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}

	// The book must be exactly as it was.
	snap := b.Depth()
	if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(dec("100")) {
		t.Errorf("bad load disturbed the book: %+v", snap.Bids)
	}
}

func TestLoadFoldsDuplicatePriceLevels(t *testing.T) {
	b := New("BTCZAR")

	snap := Snapshot{
		Asks: []SnapshotLevel{
			{Price: dec("101"), Orders: []SnapshotOrder{{OrderID: "a", Quantity: dec("1")}}},
			{Price: dec("101"), Orders: []SnapshotOrder{{OrderID: "b", Quantity: dec("2")}}},
		},
	}
	if err := b.Load(snap); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	depth := b.Depth()
	if len(depth.Asks) != 1 {
		t.Fatalf("expected duplicate levels folded into 1, got %d", len(depth.Asks))
	}
	if !depth.Asks[0].Quantity.Equal(dec("3")) {
		t.Errorf("expected folded quantity 3, got %s", depth.Asks[0].Quantity)
	}
}
