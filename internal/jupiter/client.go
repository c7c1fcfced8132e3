// Package jupiter is a typed client for the Jupiter swap aggregator:
// quote, swap-build and USD price endpoints.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default endpoints.
const (
	DefaultLiteURL = "https://lite-api.jup.ag"
	DefaultProURL  = "https://api.jup.ag"
)

const (
	quotePath = "/swap/v1/quote"
	swapPath  = "/swap/v1/swap"
	pricePath = "/price/v3"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// ErrDecode marks a response body that did not match the expected schema.
var ErrDecode = errors.New("jupiter: decode response")

// HTTPError is a non-success answer from the aggregator.
// Status 200 with an errorCode in the body is also reported as HTTPError.
type HTTPError struct {
	Status     int
	Code       string        // errorCode / error field of the body, if any
	RetryAfter time.Duration // parsed Retry-After header on 429
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jupiter: %s", e.Reason())
}

// Reason returns the aggregator error code, or HTTP_<status> when the body carried none.
func (e *HTTPError) Reason() string {
	if e.Code != "" {
		return e.Code
	}
	return "HTTP_" + strconv.Itoa(e.Status)
}

// RateLimited reports whether the aggregator answered 429.
func (e *HTTPError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// Config configures Client.
type Config struct {
	BaseURL    string // quote and swap host; defaults to DefaultLiteURL
	PriceURL   string // primary price host; defaults to BaseURL
	ProURL     string // authenticated price host used when APIKey is set
	APIKey     string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client talks to the aggregator. It holds no per-mint state and is safe
// for concurrent use.
type Client struct {
	baseURL  string
	priceURL string
	proURL   string
	apiKey   string
	http     *http.Client
	log      logrus.FieldLogger
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLiteURL
	}
	if cfg.PriceURL == "" {
		cfg.PriceURL = cfg.BaseURL
	}
	if cfg.ProURL == "" {
		cfg.ProURL = DefaultProURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		priceURL: strings.TrimRight(cfg.PriceURL, "/"),
		proURL:   strings.TrimRight(cfg.ProURL, "/"),
		apiKey:   cfg.APIKey,
		http:     cfg.HTTPClient,
		log:      cfg.Logger.WithField("component", "jupiter"),
	}
}

// HasProEndpoint reports whether an authenticated fallback host is usable.
func (c *Client) HasProEndpoint() bool {
	return c.apiKey != ""
}

// do executes one request and returns the body of a 200 response.
// Non-200 answers become *HTTPError. There is no retry here: callers race
// or fall back explicitly.
func (c *Client) do(ctx context.Context, method, url string, payload interface{}, auth bool) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		herr := &HTTPError{
			Status: resp.StatusCode,
			Body:   truncate(string(respBody), 400),
		}
		var eb errorBodyV1
		if json.Unmarshal(respBody, &eb) == nil {
			herr.Code = eb.code()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			herr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, herr
	}
	return respBody, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
