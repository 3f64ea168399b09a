package book

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// ParseSide accepts "BUY" or "SELL" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(v) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q: must be BUY or SELL", v)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	side, err := ParseSide(v)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Order is a limit order. While resting in the book, Quantity is the
// unfilled remainder and is decremented in place as trades execute;
// every other field is fixed at creation.
type Order struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewOrder creates an order with a fresh id.
func NewOrder(side Side, price, quantity decimal.Decimal) *Order {
	return &Order{
		ID:        uuid.New().String(),
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	}
}

// Trade records one execution. Price is always the resting order's price;
// TakerSide is the side of the incoming order that triggered the match.
// Trades are immutable once appended to the ledger.
type Trade struct {
	ID         string          `json:"id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	TakerSide  Side            `json:"taker_side"`
	ExecutedAt time.Time       `json:"executed_at"`
}
