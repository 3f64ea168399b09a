package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"matchbook/internal/book"
	"matchbook/internal/feed"
	"matchbook/internal/store"
)

// snapshotTimeout bounds one feed fetch during /orderbook/init.
const snapshotTimeout = 15 * time.Second

type Server struct {
	book        *book.Book
	source      feed.Source
	hub         *Hub
	store       *store.Store
	sessions    *SessionStore
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string // allowed CORS origins (empty = allow all)
}

func NewServer(b *book.Book, src feed.Source, st *store.Store) *Server {
	s := &Server{
		book:        b,
		source:      src,
		hub:         NewHub(),
		store:       st,
		sessions:    NewSessionStore(st),
		rateLimiter: NewRateLimiter(300, 1*time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}

	// Trades executed by any submit path reach websocket subscribers.
	b.OnTrade(func(trade book.Trade) {
		s.hub.Broadcast(map[string]interface{}{
			"type":  "trade",
			"trade": trade,
		})
	})

	return s
}

// SetCORSOrigins sets the allowed CORS origins. An empty slice allows all
// origins (development default).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Trading routes
		r.Post("/orders/limit", s.submitLimitOrder)
		r.Get("/orderbook", s.getOrderBook)
		r.Post("/orderbook/init", s.reloadOrderBook)
		r.Get("/trades", s.getTrades)
		r.Get("/trades/{id}", s.getTrade)
	})

	// WebSocket
	r.Get("/ws", s.handleWebSocket)

	return r
}

// LimitOrderRequest accepts price and quantity as JSON numbers or as
// strings; decimal.Decimal unmarshals both.
type LimitOrderRequest struct {
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type LimitOrderResponse struct {
	ID string `json:"id"`
}

// submitLimitOrder validates the request and hands a clean order to the
// book. All range checking happens here; the book trusts its input.
func (s *Server) submitLimitOrder(w http.ResponseWriter, r *http.Request) {
	if s.getSession(r) == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, err := book.ParseSide(req.Side)
	if err != nil {
		http.Error(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	if !req.Price.IsPositive() {
		http.Error(w, "price must be a positive number", http.StatusBadRequest)
		return
	}
	if !req.Quantity.IsPositive() {
		http.Error(w, "quantity must be a positive number", http.StatusBadRequest)
		return
	}

	order := book.NewOrder(side, req.Price, req.Quantity)
	id := s.book.SubmitLimitOrder(order)

	s.broadcastBookUpdate()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LimitOrderResponse{ID: id})
}

func (s *Server) getOrderBook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.book.Depth())
}

// reloadOrderBook fetches a fresh snapshot from the feed and replaces the
// book with it. Failures leave the book untouched.
func (s *Server) reloadOrderBook(w http.ResponseWriter, r *http.Request) {
	if s.getSession(r) == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.source.FetchSnapshot(ctx)
	if err != nil {
		http.Error(w, "failed to fetch order book snapshot", http.StatusBadGateway)
		return
	}

	if err := s.book.Load(snap); err != nil {
		if errors.Is(err, book.ErrInvalidSnapshot) {
			http.Error(w, "upstream snapshot is invalid", http.StatusBadGateway)
			return
		}
		http.Error(w, "failed to load snapshot", http.StatusInternalServerError)
		return
	}

	s.broadcastBookUpdate()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "order book reinitialised from snapshot"})
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0 // book applies its default
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades := s.book.RecentTrades(limit)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

func (s *Server) getTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trade, ok := s.book.Trade(id)
	if !ok {
		http.Error(w, "trade not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.Register(client)

	// Send initial book state
	data, _ := json.Marshal(map[string]interface{}{
		"type": "book",
		"book": s.book.Depth(),
	})
	client.send <- data

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) broadcastBookUpdate() {
	s.hub.Broadcast(map[string]interface{}{
		"type": "book",
		"book": s.book.Depth(),
	})
}

// Shutdown stops internal goroutines (session cleanup, rate limiter, hub)
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.rateLimiter.Stop()
	s.hub.Stop()
}
