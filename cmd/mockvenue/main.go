// cmd/mockvenue is a simulated venue HTTP+WebSocket server: the server
// side of internal/venue.HTTPAdapter's protocol, backed by
// internal/venue.MockAdapter. It exists so the order lifecycle,
// reconciliation, and crash-recovery scenarios (§8) are exercisable end
// to end without a real exchange connection — a supplemental component
// per SPEC_FULL.md, using go-chi/chi/v5 as the one lightweight
// standalone router in this repo (the admin surface uses gorilla/mux
// instead, see internal/adminhttp).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/peycheff-com/titan-execution-core/internal/venue"
	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type server struct {
	mock *venue.MockAdapter
}

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	name := flag.String("name", "mockex", "venue name reported to clients")
	flag.Parse()

	s := &server{mock: venue.NewMockAdapter(*name)}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Post("/orders", s.handlePlaceOrder)
	r.Delete("/accounts/{account}/orders/{venueOrderID}", s.handleCancelOrder)
	r.Get("/accounts/{account}/positions", s.handleGetPositions)
	r.Get("/accounts/{account}/balances", s.handleGetBalances)
	r.Post("/accounts/{account}/positions", s.handleSeedPosition)
	r.Post("/accounts/{account}/fills", s.handlePushFill)
	r.Get("/accounts/{account}/fills/stream", s.handleFillStream)

	httpServer := &http.Server{Addr: *addr, Handler: r}

	go func() {
		log.Printf("mockvenue: listening on %s as %q", *addr, *name)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("mockvenue: serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

type placeOrderWire struct {
	ClientOrderID string `json:"client_order_id"`
	Account       string `json:"account"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	LimitPrice    string `json:"limit_price,omitempty"`
	TIF           string `json:"tif"`
}

func (s *server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in placeOrderWire
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size, err := decimal.NewFromString(in.Size)
	if err != nil {
		http.Error(w, "invalid size", http.StatusBadRequest)
		return
	}
	req := venue.PlaceOrderRequest{
		ClientOrderID: in.ClientOrderID,
		Account:       in.Account,
		Symbol:        in.Symbol,
		Side:          wire.Side(in.Side),
		TIF:           wire.TimeInForce(in.TIF),
		Size:          size,
	}
	if in.LimitPrice != "" {
		px, err := decimal.NewFromString(in.LimitPrice)
		if err != nil {
			http.Error(w, "invalid limit_price", http.StatusBadRequest)
			return
		}
		req.LimitPrice = &px
	}
	id, err := s.mock.PlaceOrder(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"venue_order_id": id})
}

func (s *server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	venueOrderID := chi.URLParam(r, "venueOrderID")
	if err := s.mock.CancelOrder(r.Context(), account, venueOrderID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	positions, err := s.mock.GetPositions(r.Context(), account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balances, err := s.mock.GetBalances(r.Context(), account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// handleSeedPosition is a test-only endpoint that scripts a remote
// position for drift scenarios.
func (s *server) handleSeedPosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var p venue.RemotePosition
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mock.SetPosition(account, p)
	w.WriteHeader(http.StatusNoContent)
}

// handlePushFill is a test-only endpoint that scripts a fill delivered to
// every connected websocket subscriber for account.
func (s *server) handlePushFill(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var f venue.Fill
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mock.PushFill(account, f)
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleFillStream(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	fills, err := s.mock.SubscribeFills(ctx, account)
	if err != nil {
		return
	}
	for f := range fills {
		if err := conn.WriteJSON(f); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
