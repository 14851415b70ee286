// Package remote talks to the savings HTTP service: JSON bodies over plain
// HTTP, one request per operation, no caching.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
)

const (
	PathAll  = "/all"
	PathSum  = "/sum"
	PathSave = "/save"
	PathLast = "/last"

	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 4 << 20
)

// Client is safe for concurrent use; every call is independent.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent(log.ComponentRemote),
	}
}

// NewClientWithHTTP is used by tests to point the client at an httptest server.
func NewClientWithHTTP(hc *http.Client, logger *log.Logger) *Client {
	c := NewClient(DefaultTimeout, logger)
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// FetchAllSavings returns every saving ordered by date, ties broken by key.
func (c *Client) FetchAllSavings(ctx context.Context, baseURL string, sortDescending bool) ([]core.SavingRecord, error) {
	raw, err := c.fetchAll(ctx, baseURL, AllRequest{Desc: sortDescending, Withdraw: false})
	if err != nil {
		return nil, fmt.Errorf("fetch savings: %w", err)
	}

	keys := sortedKeys(raw, sortDescending)
	out := make([]core.SavingRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := raw[k].toSaving(k)
		if err != nil {
			return nil, fmt.Errorf("fetch savings: %w", &core.DecodeError{Err: err})
		}
		out = append(out, rec)
	}

	c.logger.DebugContext(ctx, "Fetched savings", log.FieldCount, len(out))
	return out, nil
}

// FetchAllCosts returns every withdrawal ordered by date, ties broken by key.
func (c *Client) FetchAllCosts(ctx context.Context, baseURL string, sortDescending bool) ([]core.CostRecord, error) {
	raw, err := c.fetchAll(ctx, baseURL, AllRequest{Desc: sortDescending, Withdraw: true})
	if err != nil {
		return nil, fmt.Errorf("fetch costs: %w", err)
	}

	keys := sortedKeys(raw, sortDescending)
	out := make([]core.CostRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := raw[k].toCost(k)
		if err != nil {
			return nil, fmt.Errorf("fetch costs: %w", &core.DecodeError{Err: err})
		}
		out = append(out, rec)
	}

	c.logger.DebugContext(ctx, "Fetched costs", log.FieldCount, len(out))
	return out, nil
}

// FetchSum returns the server's running total of confirmed savings.
func (c *Client) FetchSum(ctx context.Context, baseURL string) (decimal.Decimal, error) {
	body, err := c.do(ctx, http.MethodGet, baseURL, PathSum, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch sum: %w", err)
	}
	if len(body) == 0 {
		return decimal.Zero, fmt.Errorf("fetch sum: %w", core.ErrEmptyResponse)
	}

	var resp SumResponse
	if err := decode(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("fetch sum: %w", err)
	}
	sum, err := parseAmount(resp.Sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch sum: %w", &core.DecodeError{Err: err})
	}
	return sum, nil
}

// ConfirmSaving sets the saved flag for date. An empty body or true counts as
// success, an explicit false is ErrConfirmRejected and any other body is a
// *core.DecodeError.
func (c *Client) ConfirmSaving(ctx context.Context, baseURL string, date core.Date, confirmed bool) error {
	payload, err := json.Marshal(SaveRequest{Date: date.String(), Saved: confirmed})
	if err != nil {
		return fmt.Errorf("confirm saving: encode request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, baseURL, PathSave, payload)
	if err != nil {
		return fmt.Errorf("confirm saving %s: %w", date, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var ok Flag
	if err := json.Unmarshal(body, &ok); err != nil {
		c.logger.WarnContext(ctx, "Unexpected save response", log.FieldDate, date.String(), log.FieldError, err)
		return fmt.Errorf("confirm saving %s: %w", date, &core.DecodeError{Err: err})
	}
	if !ok {
		return fmt.Errorf("confirm saving %s: %w", date, core.ErrConfirmRejected)
	}
	return nil
}

// FetchLast returns the most recent proposal. When the mapping carries more
// than one entry the greatest key wins.
func (c *Client) FetchLast(ctx context.Context, baseURL string) (core.LastSaving, error) {
	body, err := c.do(ctx, http.MethodGet, baseURL, PathLast, nil)
	if err != nil {
		return core.LastSaving{}, fmt.Errorf("fetch last: %w", err)
	}
	if len(body) == 0 {
		return core.LastSaving{}, fmt.Errorf("fetch last: %w", core.ErrEmptyResponse)
	}

	var raw map[string]WireLast
	if err := decode(body, &raw); err != nil {
		return core.LastSaving{}, fmt.Errorf("fetch last: %w", err)
	}
	if len(raw) == 0 {
		return core.LastSaving{}, fmt.Errorf("fetch last: %w", core.ErrEmptyResponse)
	}

	var key string
	for k := range raw {
		if k > key {
			key = k
		}
	}
	amount, err := parseAmount(raw[key].Amount)
	if err != nil {
		return core.LastSaving{}, fmt.Errorf("fetch last: %w", &core.DecodeError{Err: err})
	}
	return core.LastSaving{Amount: amount, Confirmed: bool(raw[key].Saved)}, nil
}

func (c *Client) fetchAll(ctx context.Context, baseURL string, req AllRequest) (map[string]WireRecord, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, baseURL, PathAll, payload)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, core.ErrEmptyResponse
	}

	var raw map[string]WireRecord
	if err := decode(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// do performs one request and returns the trimmed body of a 2xx response.
func (c *Client) do(ctx context.Context, method, baseURL, path string, payload []byte) ([]byte, error) {
	endpoint, err := Endpoint(baseURL, path)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &core.TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote request failed",
			log.FieldEndpoint, endpoint, log.FieldMethod, method, log.FieldError, err)
		return nil, &core.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &core.TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.DebugContext(ctx, "Remote request completed",
		log.FieldEndpoint, endpoint,
		log.FieldMethod, method,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.TransportError{Err: fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)}
	}
	return bytes.TrimSpace(body), nil
}

// Endpoint validates baseURL and joins path onto it. Only absolute http and
// https URLs are accepted.
func Endpoint(baseURL, path string) (string, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return "", fmt.Errorf("%w: empty base URL", core.ErrInvalidEndpoint)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", core.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", core.ErrInvalidEndpoint)
	}
	return strings.TrimSuffix(base, "/") + path, nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ErrEmptyResponse
		}
		return &core.DecodeError{Err: err}
	}
	return nil
}

// sortedKeys orders the mapping by record date; equal dates fall back to the key.
func sortedKeys(raw map[string]WireRecord, descending bool) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := raw[keys[i]].Date, raw[keys[j]].Date
		if di != dj {
			if descending {
				return di > dj
			}
			return di < dj
		}
		return keys[i] < keys[j]
	})
	return keys
}
