package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/peycheff-com/titan-execution-core/internal/venue"
)

func newTestRouter(s *server) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/orders", s.handlePlaceOrder)
	r.Get("/accounts/{account}/positions", s.handleGetPositions)
	r.Post("/accounts/{account}/positions", s.handleSeedPosition)
	return r
}

func TestHandlePlaceOrder(t *testing.T) {
	s := &server{mock: venue.NewMockAdapter("mockex")}
	r := newTestRouter(s)

	body, _ := json.Marshal(placeOrderWire{
		ClientOrderID: "signal-1", Account: "acct1", Symbol: "BTC/USDT:PERP", Side: "BUY", Size: "0.1",
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["venue_order_id"] == "" {
		t.Fatal("expected a venue_order_id to be assigned")
	}
}

func TestHandleSeedAndGetPositions(t *testing.T) {
	s := &server{mock: venue.NewMockAdapter("mockex")}
	r := newTestRouter(s)

	seed, _ := json.Marshal(venue.RemotePosition{Symbol: "BTC/USDT:PERP"})
	seedReq := httptest.NewRequest(http.MethodPost, "/accounts/acct1/positions", bytes.NewReader(seed))
	seedRR := httptest.NewRecorder()
	r.ServeHTTP(seedRR, seedReq)
	if seedRR.Code != http.StatusNoContent {
		t.Fatalf("expected 204 seeding a position, got %d", seedRR.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/accounts/acct1/positions", nil)
	getRR := httptest.NewRecorder()
	r.ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRR.Code)
	}
	var positions []venue.RemotePosition
	if err := json.Unmarshal(getRR.Body.Bytes(), &positions); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 seeded position, got %d", len(positions))
	}
}

func TestHandlePlaceOrderInvalidSize(t *testing.T) {
	s := &server{mock: venue.NewMockAdapter("mockex")}
	r := newTestRouter(s)

	body, _ := json.Marshal(placeOrderWire{ClientOrderID: "signal-1", Account: "acct1", Symbol: "BTC/USDT:PERP", Side: "BUY", Size: "not-a-number"})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid size, got %d", rr.Code)
	}
}
