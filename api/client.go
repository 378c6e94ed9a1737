// Package api is the bearer-token JSON client for the logistics back end:
// orders, destinations and status-filtered order lists.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tiximax/logging"
)

// HTTPError is returned for responses with status >= 400.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        *zap.Logger
}

// NewClient creates a client. tokens may be nil.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		log:    logging.OrNop(log).Named("api"),
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		herr := &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
		c.log.Warn("request rejected", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return herr
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("api decode %s: %w", path, err)
		}
	}
	return nil
}

func pageQuery(page, size int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q.Encode()
}

// ListOrders returns one page of orders.
func (c *Client) ListOrders(ctx context.Context, page, size int) (*Page[Order], error) {
	var out Page[Order]
	if err := c.do(ctx, http.MethodGet, "/orders?"+pageQuery(page, size), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns a single order.
func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrdersByStatus returns one page of orders in status.
func (c *Client) ListOrdersByStatus(ctx context.Context, status string, page, size int) (*Page[Order], error) {
	var out Page[Order]
	path := "/orders/status/" + url.PathEscape(status) + "?" + pageQuery(page, size)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDestinations returns every destination.
func (c *Client) ListDestinations(ctx context.Context) ([]Destination, error) {
	var out []Destination
	if err := c.do(ctx, http.MethodGet, "/destinations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder creates an order and returns it as stored.
func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
