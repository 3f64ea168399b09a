package book

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidSnapshot reports a snapshot that cannot initialise the book.
// Load never partially applies a bad snapshot.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is externally supplied resting liquidity, used to (re)initialise
// the book. It never feeds through matching: every order in it is taken as
// already resting, not as a crossable incoming order.
type Snapshot struct {
	Bids []SnapshotLevel `json:"bids"`
	Asks []SnapshotLevel `json:"asks"`
}

type SnapshotLevel struct {
	Price  decimal.Decimal `json:"price"`
	Orders []SnapshotOrder `json:"orders"`
}

type SnapshotOrder struct {
	OrderID  string          `json:"order_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Load replaces both sides of the book with the snapshot's liquidity,
// preserving the snapshot's per-level order sequencing as time priority.
// The trade ledger is untouched. On error the book is left exactly as it
// was: validation and level construction happen before anything is cleared.
func (b *Book) Load(snap Snapshot) error {
	bids, err := buildLevels(snap.Bids, Buy)
	if err != nil {
		return err
	}
	asks, err := buildLevels(snap.Asks, Sell)
	if err != nil {
		return err
	}

	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].price.GreaterThan(bids[j].price)
	})
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].price.LessThan(asks[j].price)
	})

	b.mu.Lock()
	b.bids = bids
	b.asks = asks
	b.mu.Unlock()
	return nil
}

func buildLevels(src []SnapshotLevel, side Side) ([]*priceLevel, error) {
	now := time.Now()
	byPrice := make(map[string]*priceLevel, len(src))
	levels := make([]*priceLevel, 0, len(src))

	for _, sl := range src {
		if !sl.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s level has non-positive price %s", ErrInvalidSnapshot, side, sl.Price)
		}
		if len(sl.Orders) == 0 {
			return nil, fmt.Errorf("%w: %s level %s has no orders", ErrInvalidSnapshot, side, sl.Price)
		}

		// Duplicate price entries fold into one level, in order.
		key := sl.Price.String()
		level, ok := byPrice[key]
		if !ok {
			level = &priceLevel{price: sl.Price}
			byPrice[key] = level
			levels = append(levels, level)
		}

		for _, so := range sl.Orders {
			if so.OrderID == "" {
				return nil, fmt.Errorf("%w: %s level %s has an order without an id", ErrInvalidSnapshot, side, sl.Price)
			}
			if !so.Quantity.IsPositive() {
				return nil, fmt.Errorf("%w: order %s has non-positive quantity %s", ErrInvalidSnapshot, so.OrderID, so.Quantity)
			}
			level.orders = append(level.orders, &Order{
				ID:        so.OrderID,
				Side:      side,
				Price:     sl.Price,
				Quantity:  so.Quantity,
				CreatedAt: now,
			})
		}
	}

	return levels, nil
}
