package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"matchbook/internal/book"
)

const snapshotMessage = `{
	"type": "FULL_ORDERBOOK_SNAPSHOT",
	"currencyPairSymbol": "BTCZAR",
	"data": {
		"Bids": [
			{"Price": "1200000", "Orders": [
				{"orderId": "bid-a", "quantity": "0.5"},
				{"orderId": "bid-b", "quantity": "0.25"}
			]}
		],
		"Asks": [
			{"Price": "1200500", "Orders": [
				{"orderId": "ask-a", "quantity": "1.1"}
			]}
		]
	}
}`

// fakeFeed runs a websocket server that answers a subscription with the
// given messages in order, then closes.
func fakeFeed(t *testing.T, messages ...string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Expect the SUBSCRIBE request first.
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("reading subscribe: %v", err)
			return
		}
		if sub["type"] != "SUBSCRIBE" {
			t.Errorf("expected SUBSCRIBE, got %v", sub["type"])
		}

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestFetchSnapshot(t *testing.T) {
	ts := fakeFeed(t,
		`{"type": "SUBSCRIBED"}`,
		snapshotMessage,
	)
	defer ts.Close()

	client := NewClient(wsURL(ts), "BTCZAR")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := client.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}

	if len(snap.Bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(snap.Bids))
	}
	if !snap.Bids[0].Price.Equal(dec(t, "1200000")) {
		t.Errorf("expected bid price 1200000, got %s", snap.Bids[0].Price)
	}
	if len(snap.Bids[0].Orders) != 2 || snap.Bids[0].Orders[0].OrderID != "bid-a" {
		t.Errorf("unexpected bid orders: %+v", snap.Bids[0].Orders)
	}
	if len(snap.Asks) != 1 || !snap.Asks[0].Orders[0].Quantity.Equal(dec(t, "1.1")) {
		t.Errorf("unexpected ask side: %+v", snap.Asks)
	}
}

func TestFetchSnapshotIgnoresOtherMessages(t *testing.T) {
	ts := fakeFeed(t,
		`{"type": "SUBSCRIBED"}`,
		`{"type": "NEW_TRADE", "data": {}}`,
		snapshotMessage,
	)
	defer ts.Close()

	client := NewClient(wsURL(ts), "BTCZAR")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.FetchSnapshot(ctx); err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
}

func TestFetchSnapshotConnectionClosed(t *testing.T) {
	ts := fakeFeed(t, `{"type": "SUBSCRIBED"}`)
	defer ts.Close()

	client := NewClient(wsURL(ts), "BTCZAR")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.FetchSnapshot(ctx)
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestParseSnapshotBadDecimal(t *testing.T) {
	raw := json.RawMessage(`{
		"Bids": [{"Price": "not-a-number", "Orders": [{"orderId": "x", "quantity": "1"}]}],
		"Asks": []
	}`)

	if _, err := parseSnapshot(raw); err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestStaticSource(t *testing.T) {
	src := Static{Snapshot: SampleSnapshot()}

	snap, err := src.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		t.Error("expected the sample snapshot to have both sides")
	}

	b := book.New("BTCZAR")
	if err := b.Load(snap); err != nil {
		t.Fatalf("sample snapshot did not load: %v", err)
	}
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", v, err)
	}
	return d
}
