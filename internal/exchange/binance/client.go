// Package binance implements the market data, trading and balance interfaces
// against the Binance spot REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Name is the exchange name used in graphs, opportunities and positions.
const Name = "binance"

// ErrMissingCredentials is returned by signed calls when no API key is configured.
var ErrMissingCredentials = errors.New("binance api key and secret are required")

// APIError is an error response from the API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d: code %d: %s", e.Status, e.Code, e.Message)
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RecvWindow time.Duration
	// TickerTTL reuses one 24h ticker download for back-to-back Prices and
	// Volumes calls.
	TickerTTL  time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a Binance spot REST client.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	tickers tickerMemo
}

// NewClient creates a Binance client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.TickerTTL <= 0 {
		cfg.TickerTTL = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
		tickers:    tickerMemo{ttl: cfg.TickerTTL},
	}, nil
}

// sign returns the hex HMAC-SHA256 of payload under the API secret.
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, path, false, out)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return ErrMissingCredentials
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))

	query := params.Encode()
	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, path, query, c.sign(query))
	return c.do(ctx, method, endpoint, path, true, out)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, signed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	RequestDurationSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		RequestErrorsTotal.WithLabelValues(path).Inc()
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		RequestErrorsTotal.WithLabelValues(path).Inc()
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		RequestErrorsTotal.WithLabelValues(path).Inc()
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		c.logger.Warn("binance-request-failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Int("code", apiErr.Code))
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
