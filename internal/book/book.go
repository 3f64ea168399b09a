package book

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTradeLimit is how many trades RecentTrades returns when the
// caller does not say otherwise.
const DefaultTradeLimit = 100

// priceLevel holds all resting orders at one price, oldest first.
type priceLevel struct {
	price  decimal.Decimal
	orders []*Order
}

func (pl *priceLevel) totalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range pl.orders {
		total = total.Add(o.Quantity)
	}
	return total
}

// Book is an in-memory limit order book for a single pair. All mutation
// (SubmitLimitOrder, Load) happens under the write lock, so matching is
// observed as a single indivisible step; queries share the read lock.
type Book struct {
	Pair string

	mu   sync.RWMutex
	bids []*priceLevel // sorted descending by price (best bid first)
	asks []*priceLevel // sorted ascending by price (best ask first)

	trades      []Trade
	tradeByID   map[string]int
	lastTradeID uint64

	onTrade []func(Trade)
}

func New(pair string) *Book {
	return &Book{
		Pair:      pair,
		bids:      make([]*priceLevel, 0),
		asks:      make([]*priceLevel, 0),
		trades:    make([]Trade, 0),
		tradeByID: make(map[string]int),
	}
}

// OnTrade registers a callback invoked once per executed trade, after the
// submit that produced it has released the book lock.
func (b *Book) OnTrade(fn func(Trade)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrade = append(b.onTrade, fn)
}

// SubmitLimitOrder matches the order against resting liquidity and rests
// any remainder. It returns the order's id whether the order filled
// fully, partially, or not at all.
//
// Price and quantity must already be validated as positive; a violation
// here is a bug in the caller, not a recoverable condition.
func (b *Book) SubmitLimitOrder(o *Order) string {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if !o.Price.IsPositive() || !o.Quantity.IsPositive() {
		panic(fmt.Sprintf("book: order %s submitted with non-positive price or quantity", o.ID))
	}

	executed := b.submit(o)

	for _, t := range executed {
		for _, fn := range b.onTrade {
			fn(t)
		}
	}

	return o.ID
}

func (b *Book) submit(o *Order) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	executed := b.matchLimit(o)
	if o.Quantity.IsPositive() {
		b.addToBook(o)
	}
	return executed
}

func (b *Book) matchLimit(o *Order) []Trade {
	var executed []Trade

	if o.Side == Buy {
		// Match against asks where ask price <= order price
		for len(b.asks) > 0 && o.Quantity.IsPositive() {
			level := b.asks[0]
			if level.price.GreaterThan(o.Price) {
				break // no deeper level can cross
			}
			executed = append(executed, b.matchAtLevel(o, level)...)
			if len(level.orders) == 0 {
				b.asks = b.asks[1:]
			}
		}
	} else {
		// Match against bids where bid price >= order price
		for len(b.bids) > 0 && o.Quantity.IsPositive() {
			level := b.bids[0]
			if level.price.LessThan(o.Price) {
				break
			}
			executed = append(executed, b.matchAtLevel(o, level)...)
			if len(level.orders) == 0 {
				b.bids = b.bids[1:]
			}
		}
	}

	return executed
}

func (b *Book) matchAtLevel(incoming *Order, level *priceLevel) []Trade {
	var executed []Trade

	for len(level.orders) > 0 && incoming.Quantity.IsPositive() {
		resting := level.orders[0]
		qty := decimal.Min(incoming.Quantity, resting.Quantity)

		b.lastTradeID++
		trade := Trade{
			ID:         fmt.Sprintf("T%d", b.lastTradeID),
			Price:      level.price, // trade at the resting order's price
			Quantity:   qty,
			TakerSide:  incoming.Side,
			ExecutedAt: time.Now(),
		}
		b.tradeByID[trade.ID] = len(b.trades)
		b.trades = append(b.trades, trade)
		executed = append(executed, trade)

		incoming.Quantity = incoming.Quantity.Sub(qty)
		resting.Quantity = resting.Quantity.Sub(qty)

		if resting.Quantity.IsZero() {
			level.orders = level.orders[1:]
		}
	}

	return executed
}

func (b *Book) addToBook(o *Order) {
	if o.Side == Buy {
		b.bids = insertLevel(b.bids, o, func(level, order decimal.Decimal) bool {
			return level.LessThan(order)
		})
	} else {
		b.asks = insertLevel(b.asks, o, func(level, order decimal.Decimal) bool {
			return level.GreaterThan(order)
		})
	}
}

// insertLevel appends the order to its price level, creating the level at
// the position where worse reports true. Appending to the level's tail
// preserves time priority.
func insertLevel(levels []*priceLevel, o *Order, worse func(level, order decimal.Decimal) bool) []*priceLevel {
	for i, level := range levels {
		if level.price.Equal(o.Price) {
			level.orders = append(level.orders, o)
			return levels
		}
		if worse(level.price, o.Price) {
			newLevel := &priceLevel{price: o.Price, orders: []*Order{o}}
			return append(levels[:i], append([]*priceLevel{newLevel}, levels[i:]...)...)
		}
	}
	return append(levels, &priceLevel{price: o.Price, orders: []*Order{o}})
}

// DepthSnapshot is the aggregated view of the book: one entry per price
// level, bids descending and asks ascending.
type DepthSnapshot struct {
	Pair string       `json:"pair"`
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Depth returns the current per-level aggregate quantities.
func (b *Book) Depth() DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := DepthSnapshot{
		Pair: b.Pair,
		Bids: make([]DepthLevel, len(b.bids)),
		Asks: make([]DepthLevel, len(b.asks)),
	}
	for i, level := range b.bids {
		snap.Bids[i] = DepthLevel{Price: level.price, Quantity: level.totalQuantity()}
	}
	for i, level := range b.asks {
		snap.Asks[i] = DepthLevel{Price: level.price, Quantity: level.totalQuantity()}
	}
	return snap
}

// RecentTrades returns up to limit trades, most recent first. A limit of
// zero or less means DefaultTradeLimit.
func (b *Book) RecentTrades(limit int) []Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	if limit > len(b.trades) {
		limit = len(b.trades)
	}

	result := make([]Trade, limit)
	for i := 0; i < limit; i++ {
		result[i] = b.trades[len(b.trades)-1-i]
	}
	return result
}

// Trade looks up a trade by id. The second return value distinguishes an
// unknown id from any fault.
func (b *Book) Trade(id string) (Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i, ok := b.tradeByID[id]
	if !ok {
		return Trade{}, false
	}
	return b.trades[i], true
}
