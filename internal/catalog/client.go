package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/abgdnv/tarpets/pkg/client/rest"
)

const maxErrorBody = 512

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. httpClient is expected to carry the resilient transport.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// FetchAllProducts returns the full catalog in backend order.
func (c *Client) FetchAllProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, "", &products, nil); err != nil {
		return nil, err
	}
	return products, nil
}

// FetchDiscountedProducts returns the products currently on sale.
func (c *Client) FetchDiscountedProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.do(ctx, http.MethodGet, "/api/products/discounted", nil, "", &products, nil); err != nil {
		return nil, err
	}
	return products, nil
}

// FetchProduct returns a single product. Returns ErrProductNotFound for an unknown id.
func (c *Client) FetchProduct(ctx context.Context, id int64) (*Product, error) {
	var product Product
	path := "/api/products/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &product, storefronterrors.ErrProductNotFound); err != nil {
		return nil, err
	}
	return &product, nil
}

// FetchUser returns a user profile. Returns ErrUserNotFound for an unknown id.
func (c *Client) FetchUser(ctx context.Context, id int64) (*UserProfile, error) {
	var user UserProfile
	path := "/api/users/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &user, storefronterrors.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateOrder submits an order. The idempotency key is sent as a header and makes the request retryable.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/orders", body, idempotencyKey, nil, nil)
}

// FetchOrders returns the order history of a user.
func (c *Client) FetchOrders(ctx context.Context, userID int64) ([]Order, error) {
	var orders []Order
	path := "/api/orders/user/" + strconv.FormatInt(userID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &orders, nil); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", storefronterrors.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(rest.IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", storefronterrors.ErrUpstream, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return notFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s", storefronterrors.ErrUpstream, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: invalid response: %w", storefronterrors.ErrUpstream, method, path, err)
	}
	return nil
}
