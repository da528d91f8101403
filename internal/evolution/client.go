// Package evolution is the outbound client for the Evolution-API messaging
// gateway. It is the only place that knows the gateway base URL, the apikey
// header, per-call timeouts and the retry policy.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"channel-platform/internal/config"
)

const (
	// MaxResponseSize caps every gateway response body (10MB).
	MaxResponseSize = 10 * 1024 * 1024

	apiKeyHeader = "apikey"
)

// Payload is a decoded JSON object from the gateway.
type Payload = map[string]any

// Client talks to one gateway. It is safe for concurrent use; the underlying
// *http.Client and its connection pool live as long as the Client.
type Client struct {
	baseURL     string
	apiKey      string
	maxAttempts int
	backoff     time.Duration

	http    *http.Client
	logger  *slog.Logger
	metrics *Metrics
}

// New builds a Client from validated config. metrics may be nil.
func New(cfg config.EvolutionConfig, logger *slog.Logger, metrics *Metrics) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("evolution: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("evolution: invalid base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		maxAttempts: attempts,
		backoff:     backoff,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// call performs one logical operation, retried per the client policy, and
// returns the decoded JSON body (object, array, or nil for an empty body).
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any) (any, error) {
	var encoded []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("evolution %s: encode body: %w", op, err)
		}
		encoded = b
	}

	var out any
	err := c.withRetry(ctx, op, func(ctx context.Context) error {
		v, err := c.once(ctx, op, method, path, query, encoded)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// callObject is call for endpoints answering a JSON object. A non-object
// body is wrapped as {"response": body}.
func (c *Client) callObject(ctx context.Context, op, method, path string, query url.Values, body any) (Payload, error) {
	v, err := c.call(ctx, op, method, path, query, body)
	if err != nil {
		return nil, err
	}
	return asPayload(v), nil
}

func (c *Client) once(ctx context.Context, op, method, path string, query url.Values, body []byte) (any, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("evolution %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(op, outcomeTransportError, time.Since(start))
		return nil, fmt.Errorf("evolution %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		c.metrics.observe(op, outcomeTransportError, time.Since(start))
		return nil, fmt.Errorf("evolution %s: read body: %w", op, err)
	}
	dur := time.Since(start)

	if len(raw) > MaxResponseSize {
		c.metrics.observe(op, outcomeTransportError, dur)
		return nil, fmt.Errorf("evolution %s: %w", op, ErrResponseTooLarge)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.observe(op, outcomeStatusError, dur)
		return nil, &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	c.metrics.observe(op, outcomeOK, dur)

	c.logger.DebugContext(ctx, "evolution call", "operation", op, "method", method, "status", resp.StatusCode, "duration_ms", dur.Milliseconds())

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("evolution %s: %w: %v", op, ErrInvalidResponse, err)
	}
	return v, nil
}

func asPayload(v any) Payload {
	switch t := v.(type) {
	case nil:
		return Payload{}
	case map[string]any:
		return t
	default:
		return Payload{"response": t}
	}
}

func seg(s string) string { return url.PathEscape(s) }
