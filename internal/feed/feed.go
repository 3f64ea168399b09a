// Package feed fetches order book snapshots from an upstream market-data
// websocket feed. It only supplies initial liquidity; incremental updates
// are not consumed.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"matchbook/internal/book"
)

// Source supplies a snapshot for (re)initialising the book. The websocket
// Client is the real implementation; Static serves canned data when no
// upstream is configured.
type Source interface {
	FetchSnapshot(ctx context.Context) (book.Snapshot, error)
}

// ErrNoSnapshot means the feed closed before delivering a full snapshot.
var ErrNoSnapshot = errors.New("feed: connection closed before snapshot arrived")

// Wire shapes for the upstream feed protocol.

type subscribeRequest struct {
	Type          string         `json:"type"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Event string   `json:"event"`
	Pairs []string `json:"pairs"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireBook struct {
	Bids []wireLevel `json:"Bids"`
	Asks []wireLevel `json:"Asks"`
}

type wireLevel struct {
	Price  string      `json:"Price"`
	Orders []wireOrder `json:"Orders"`
}

type wireOrder struct {
	OrderID  string `json:"orderId"`
	Quantity string `json:"quantity"`
}

// Client subscribes to the full-book channel for one pair and waits for
// the initial snapshot message.
type Client struct {
	URL    string
	Pair   string
	Dialer *websocket.Dialer
}

func NewClient(url, pair string) *Client {
	return &Client{URL: url, Pair: pair}
}

// FetchSnapshot dials the feed, subscribes, and blocks until the full
// order book snapshot arrives, ctx expires, or the connection drops.
// Retry policy is the caller's concern.
func (c *Client) FetchSnapshot(ctx context.Context) (book.Snapshot, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("feed: dial %s: %w", c.URL, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	sub := subscribeRequest{
		Type: "SUBSCRIBE",
		Subscriptions: []subscription{
			{Event: "FULL_ORDERBOOK_UPDATE", Pairs: []string{c.Pair}},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return book.Snapshot{}, fmt.Errorf("feed: subscribe: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return book.Snapshot{}, err
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return book.Snapshot{}, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			return book.Snapshot{}, fmt.Errorf("feed: malformed message: %w", err)
		}

		switch msg.Type {
		case "SUBSCRIBED":
			// Acknowledgement, keep waiting.
		case "FULL_ORDERBOOK_SNAPSHOT":
			return parseSnapshot(msg.Data)
		default:
			log.Printf("feed: ignoring message type %q", msg.Type)
		}
	}
}

// parseSnapshot converts the wire shape to a book.Snapshot. Any bad price
// or quantity fails the whole snapshot; the caller must not apply part of it.
func parseSnapshot(raw json.RawMessage) (book.Snapshot, error) {
	var wb wireBook
	if err := json.Unmarshal(raw, &wb); err != nil {
		return book.Snapshot{}, fmt.Errorf("feed: malformed snapshot: %w", err)
	}

	bids, err := parseLevels(wb.Bids)
	if err != nil {
		return book.Snapshot{}, err
	}
	asks, err := parseLevels(wb.Asks)
	if err != nil {
		return book.Snapshot{}, err
	}

	return book.Snapshot{Bids: bids, Asks: asks}, nil
}

func parseLevels(src []wireLevel) ([]book.SnapshotLevel, error) {
	levels := make([]book.SnapshotLevel, 0, len(src))
	for _, wl := range src {
		price, err := decimal.NewFromString(wl.Price)
		if err != nil {
			return nil, fmt.Errorf("feed: bad level price %q: %w", wl.Price, err)
		}

		orders := make([]book.SnapshotOrder, 0, len(wl.Orders))
		for _, wo := range wl.Orders {
			qty, err := decimal.NewFromString(wo.Quantity)
			if err != nil {
				return nil, fmt.Errorf("feed: bad quantity %q for order %s: %w", wo.Quantity, wo.OrderID, err)
			}
			orders = append(orders, book.SnapshotOrder{OrderID: wo.OrderID, Quantity: qty})
		}

		levels = append(levels, book.SnapshotLevel{Price: price, Orders: orders})
	}
	return levels, nil
}
