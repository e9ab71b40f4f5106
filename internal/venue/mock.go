package venue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockAdapter is an in-memory venue used for integration tests and by
// cmd/mockvenue's HTTP/websocket front end. It never rejects an order;
// callers drive fills explicitly via PushFill.
type MockAdapter struct {
	name string

	mu        sync.Mutex
	orders    map[string]*mockOrder
	positions map[string]map[string]RemotePosition // account -> symbol -> position
	balances  map[string][]Balance

	fillsMu sync.Mutex
	fillSubs map[string][]chan Fill

	seq atomic.Uint64
}

type mockOrder struct {
	account       string
	clientOrderID string
	symbol        string
	side          string
}

// NewMockAdapter returns a ready-to-use mock venue named name.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		name:      name,
		orders:    make(map[string]*mockOrder),
		positions: make(map[string]map[string]RemotePosition),
		balances:  make(map[string][]Balance),
		fillSubs:  make(map[string][]chan Fill),
	}
}

func (m *MockAdapter) Name() string { return m.name }

// PlaceOrder is idempotent on ClientOrderID: resubmitting the same
// client-order-id returns the original venue order id without creating a
// duplicate.
func (m *MockAdapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.orders {
		if o.clientOrderID == req.ClientOrderID {
			return id, nil
		}
	}
	id := fmt.Sprintf("%s-%d", m.name, m.seq.Add(1))
	m.orders[id] = &mockOrder{
		account:       req.Account,
		clientOrderID: req.ClientOrderID,
		symbol:        req.Symbol,
		side:          string(req.Side),
	}
	return id, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, account, venueOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, venueOrderID)
	return nil
}

func (m *MockAdapter) GetPositions(ctx context.Context, account string) ([]RemotePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol := m.positions[account]
	out := make([]RemotePosition, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockAdapter) GetBalances(ctx context.Context, account string) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Balance(nil), m.balances[account]...), nil
}

// SubscribeFills returns a channel the caller polls for simulated fills;
// PushFill delivers to every active subscriber for that account.
func (m *MockAdapter) SubscribeFills(ctx context.Context, account string) (<-chan Fill, error) {
	ch := make(chan Fill, 16)
	m.fillsMu.Lock()
	m.fillSubs[account] = append(m.fillSubs[account], ch)
	m.fillsMu.Unlock()
	go func() {
		<-ctx.Done()
		m.fillsMu.Lock()
		defer m.fillsMu.Unlock()
		subs := m.fillSubs[account]
		for i, c := range subs {
			if c == ch {
				m.fillSubs[account] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// PushFill simulates the venue reporting a fill for account, used by
// tests and the mock HTTP server to drive scripted scenarios.
func (m *MockAdapter) PushFill(account string, f Fill) {
	m.fillsMu.Lock()
	subs := append([]chan Fill(nil), m.fillSubs[account]...)
	m.fillsMu.Unlock()
	for _, ch := range subs {
		ch <- f
	}
}

// SetPosition seeds a remote position, used to script drift scenarios in
// reconciliation tests.
func (m *MockAdapter) SetPosition(account string, p RemotePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions[account] == nil {
		m.positions[account] = make(map[string]RemotePosition)
	}
	m.positions[account][p.Symbol] = p
}

// SetBalance seeds account balances for GetBalances.
func (m *MockAdapter) SetBalance(account string, bals []Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = bals
}

var _ Adapter = (*MockAdapter)(nil)
