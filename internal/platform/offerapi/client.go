// Package offerapi is an HTTP client for a remote offer store speaking
// POST /{kind} and GET /{kind}/{hash}.
package offerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Limiter throttles outbound publishes. The redis RateLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// Client talks to a remote offer store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	limiter     Limiter
	limit       int
	limitWindow time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter caps publishes to limit per window.
func WithLimiter(l Limiter, limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limiter = l
		c.limit = limit
		c.limitWindow = window
	}
}

// NewClient creates a client for the offer store at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post publishes a signed offer under its kind.
func (c *Client) Post(ctx context.Context, offer domain.SignedOffer) error {
	if !offer.Kind.Valid() {
		return fmt.Errorf("offerapi: post: %w", domain.ErrInvalidOfferKind)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "offerapi:"+c.baseURL, c.limit, c.limitWindow); err != nil {
			return fmt.Errorf("offerapi: post: %w", err)
		}
	}

	body, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("offerapi: marshal offer: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/"+string(offer.Kind), body); err != nil {
		return fmt.Errorf("offerapi: post %s: %w", offer.OfferHash.Hex(), err)
	}
	return nil
}

// Get fetches an offer by kind and hash. A 404 maps to domain.ErrNotFound.
func (c *Client) Get(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	if !kind.Valid() {
		return domain.SignedOffer{}, fmt.Errorf("offerapi: get: %w", domain.ErrInvalidOfferKind)
	}
	body, err := c.do(ctx, http.MethodGet, "/"+string(kind)+"/"+hash.Hex(), nil)
	if err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offerapi: get %s: %w", hash.Hex(), err)
	}

	var offer domain.SignedOffer
	if err := json.Unmarshal(body, &offer); err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offerapi: decode offer %s: %w", hash.Hex(), err)
	}
	if offer.Kind != kind {
		return domain.SignedOffer{}, fmt.Errorf("offerapi: get %s: %w", hash.Hex(), domain.ErrInvalidOfferKind)
	}
	return offer, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
