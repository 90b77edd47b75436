// Package btcturk implements the follower-side exchange client: REST for
// balances and order management, WebSocket for the live order book.
package btcturk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ecelik/mirrorbot/internal/crypto"
	"github.com/ecelik/mirrorbot/internal/domain"
)

const (
	// DefaultBaseURL is the production REST API root.
	DefaultBaseURL = "https://api.btcturk.com"

	defaultHTTPTimeout = 15 * time.Second
)

// Config configures the REST client.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// Client is the authenticated REST client. It implements
// domain.ExchangeClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	logger     *slog.Logger
}

// NewClient creates a REST client. Credentials may be empty for read-only
// public endpoints.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		auth:   &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		logger: logger.With(slog.String("component", "btcturk")),
	}
}

// Name implements domain.ExchangeClient.
func (c *Client) Name() string { return "btcturk" }

// apiBalance is one asset entry from /api/v1/users/balances.
type apiBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountBalances fetches the spot balances of the authenticated account.
func (c *Client) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/api/v1/users/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("btcturk: fetch balances: %w", err)
	}

	var resp struct {
		Data []apiBalance `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("btcturk: decode balances: %w", err)
	}

	balances := make(map[string]domain.Balance, len(resp.Data))
	for _, b := range resp.Data {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("btcturk: parse free balance for %s: %w", b.Asset, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("btcturk: parse locked balance for %s: %w", b.Asset, err)
		}
		balances[b.Asset] = domain.Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// SubmitLimitOrder places a limit order and returns the exchange's
// acknowledgment. A response without an order ID is an error; the gate maps
// it to a non-delivered result.
func (c *Client) SubmitLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	body := map[string]any{
		"pairSymbol":  pair.Symbol(),
		"orderMethod": "limit",
		"orderType":   string(side),
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
		"quantity":    strconv.FormatFloat(qty, 'f', -1, 64),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/api/v1/order", body)
	if err != nil {
		return nil, fmt.Errorf("btcturk: submit order: %w", err)
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("btcturk: decode order response: %w", err)
	}
	if !resp.Success || resp.Data.ID.String() == "" {
		return nil, fmt.Errorf("btcturk: order rejected: %s", resp.Message)
	}

	return &domain.OrderResult{
		OrderID:   resp.Data.ID.String(),
		Symbol:    pair.Symbol(),
		Side:      side,
		Price:     price,
		Qty:       qty,
		Delivered: true,
	}, nil
}

// apiOpenOrder is one order entry from /api/v1/openOrders.
type apiOpenOrder struct {
	ID       json.Number `json:"id"`
	Price    string      `json:"price"`
	Quantity string      `json:"quantity"`
	Type     string      `json:"type"`
}

// OpenOrders lists the open orders for the pair.
func (c *Client) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	path := "/api/v1/openOrders?pairSymbol=" + url.QueryEscape(pair.Symbol())
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("btcturk: list open orders: %w", err)
	}

	var resp struct {
		Data struct {
			Asks []apiOpenOrder `json:"asks"`
			Bids []apiOpenOrder `json:"bids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("btcturk: decode open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(resp.Data.Asks)+len(resp.Data.Bids))
	for _, o := range resp.Data.Bids {
		orders = append(orders, toDomainOrder(o, pair, domain.SideBuy))
	}
	for _, o := range resp.Data.Asks {
		orders = append(orders, toDomainOrder(o, pair, domain.SideSell))
	}
	return orders, nil
}

func toDomainOrder(o apiOpenOrder, pair domain.Pair, side domain.Side) domain.Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	qty, _ := strconv.ParseFloat(o.Quantity, 64)
	return domain.Order{
		ID:     o.ID.String(),
		Symbol: pair.Symbol(),
		Side:   side,
		Price:  price,
		Qty:    qty,
	}
}

// CancelOrder cancels a single open order by its ID.
func (c *Client) CancelOrder(ctx context.Context, pair domain.Pair, id string) error {
	path := "/api/v1/order?id=" + url.QueryEscape(id)
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("btcturk: cancel order %s: %w", id, err)
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("btcturk: decode cancel response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("btcturk: cancel order %s failed: %s", id, resp.Message)
	}
	return nil
}

// doAuthenticatedRequest builds, signs, sends, and reads an HTTP request
// against the private API. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return respBody, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
}
