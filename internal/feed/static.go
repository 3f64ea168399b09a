package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"matchbook/internal/book"
)

// Static serves a fixed snapshot. Used when no upstream feed is
// configured, and in tests.
type Static struct {
	Snapshot book.Snapshot
}

func (s Static) FetchSnapshot(ctx context.Context) (book.Snapshot, error) {
	return s.Snapshot, nil
}

// SampleSnapshot returns a small book around 100 for running without an
// upstream feed.
func SampleSnapshot() book.Snapshot {
	level := func(price string, ids ...string) book.SnapshotLevel {
		orders := make([]book.SnapshotOrder, len(ids))
		for i, id := range ids {
			orders[i] = book.SnapshotOrder{OrderID: id, Quantity: decimal.NewFromInt(int64(i) + 1)}
		}
		return book.SnapshotLevel{Price: decimal.RequireFromString(price), Orders: orders}
	}

	return book.Snapshot{
		Bids: []book.SnapshotLevel{
			level("99.5", "sample-bid-1", "sample-bid-2"),
			level("99", "sample-bid-3"),
			level("98.5", "sample-bid-4"),
		},
		Asks: []book.SnapshotLevel{
			level("100.5", "sample-ask-1", "sample-ask-2"),
			level("101", "sample-ask-3"),
			level("101.5", "sample-ask-4"),
		},
	}
}
