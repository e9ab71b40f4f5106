package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peycheff-com/titan-execution-core/pkg/utils"
)

// HTTPAdapter is a venue Adapter that speaks a minimal REST+WebSocket
// protocol over HTTP: order placement/cancellation and position/balance
// reads are plain JSON requests, and fills stream over a websocket
// connection, the idiomatic transport real exchange adapters use.
// cmd/mockvenue implements the server side of this protocol for local
// development and integration tests.
type HTTPAdapter struct {
	name    string
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewHTTPAdapter returns an HTTPAdapter named name talking to baseURL
// (e.g. "http://127.0.0.1:8091").
func NewHTTPAdapter(name, baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

type placeOrderWire struct {
	ClientOrderID string `json:"client_order_id"`
	Account       string `json:"account"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	LimitPrice    string `json:"limit_price,omitempty"`
	TIF           string `json:"tif"`
}

type placeOrderResponse struct {
	VenueOrderID string `json:"venue_order_id"`
}

// PlaceOrder submits req, idempotent on ClientOrderID per the venue
// protocol's contract.
func (a *HTTPAdapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	body := placeOrderWire{
		ClientOrderID: req.ClientOrderID,
		Account:       req.Account,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Size:          req.Size.String(),
		TIF:           string(req.TIF),
	}
	if req.LimitPrice != nil {
		body.LimitPrice = req.LimitPrice.String()
	}
	var resp placeOrderResponse
	if err := a.doJSON(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.VenueOrderID, nil
}

// CancelOrder requests cancellation of venueOrderID for account.
func (a *HTTPAdapter) CancelOrder(ctx context.Context, account, venueOrderID string) error {
	path := fmt.Sprintf("/accounts/%s/orders/%s", account, venueOrderID)
	return a.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// GetPositions fetches the venue's current view of account's open
// positions.
func (a *HTTPAdapter) GetPositions(ctx context.Context, account string) ([]RemotePosition, error) {
	var out []RemotePosition
	path := fmt.Sprintf("/accounts/%s/positions", account)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalances fetches account's current balances.
func (a *HTTPAdapter) GetBalances(ctx context.Context, account string) ([]Balance, error) {
	var out []Balance
	path := fmt.Sprintf("/accounts/%s/balances", account)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubscribeFills dials the venue's websocket fill stream for account and
// decodes each message as a Fill, closing the returned channel when ctx
// is cancelled or the connection drops.
func (a *HTTPAdapter) SubscribeFills(ctx context.Context, account string) (<-chan Fill, error) {
	wsURL := strings.Replace(a.baseURL, "http", "ws", 1) + fmt.Sprintf("/accounts/%s/fills/stream", account)
	conn, _, err := a.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, utils.Wrapf(err, "dial fill stream %s", wsURL)
	}

	ch := make(chan Fill, 16)
	go func() {
		defer close(ch)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var f Fill
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *HTTPAdapter) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return utils.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("venue: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Adapter = (*HTTPAdapter)(nil)
