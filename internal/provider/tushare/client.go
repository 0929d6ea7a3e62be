// Package tushare implements provider.Provider against the Tushare Pro HTTP
// API. Every call is a POST of {api_name, token, params, fields} answered by
// a tabular {fields, items, has_more} payload.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/marketdata/internal/provider"
)

const (
	DefaultBaseURL = "https://api.tushare.pro"
	dateFormat     = "20060102"
	// Long symbol ranges are fetched in windows below the per-call row cap.
	chunkDays = 3000
)

// Provider codes that mean "slow down" and are worth retrying.
var retryableCodes = map[int]bool{
	40203: true,
	-2001: true,
}

// APIError is a non-zero code in an otherwise well-formed response.
type APIError struct {
	API  string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare %s: code %d: %s", e.API, e.Code, e.Msg)
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	API    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tushare %s: HTTP %d", e.API, e.Status)
}

type Client struct {
	baseURL  string
	client   *http.Client
	tokens   provider.TokenSource
	limiter  *rate.Limiter
	timeout  time.Duration
	pageSize int

	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client with the given options applied.
func New(tokens provider.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		client:   &http.Client{},
		tokens:   tokens,
		limiter:  rate.NewLimiter(rate.Limit(3), 1),
		timeout:  30 * time.Second,
		pageSize: 5000,
		attempts: 4,
		delay:    500 * time.Millisecond,
		maxDelay: 10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithTimeout bounds each HTTP round trip, independently of the caller's
// context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithRetry sets the attempt count and the exponential backoff bounds.
func WithRetry(attempts uint, delay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
		c.maxDelay = maxDelay
	}
}

type request struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields,omitempty"`
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields  []string `json:"fields"`
		Items   [][]any  `json:"items"`
		HasMore bool     `json:"has_more"`
	} `json:"data"`
}

// query fetches every page of api and returns the merged table.
func (c *Client) query(ctx context.Context, api string, params map[string]any, fields []string) (*table, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if token == "" {
		return nil, provider.ErrNoToken
	}

	out := &table{}
	for offset := 0; ; offset += c.pageSize {
		p := make(map[string]any, len(params)+2)
		for k, v := range params {
			p[k] = v
		}
		p["limit"] = c.pageSize
		p["offset"] = offset

		page, hasMore, err := c.fetchPage(ctx, request{APIName: api, Token: token, Params: p, Fields: joinFields(fields)})
		if err != nil {
			return nil, err
		}
		out.append(page)
		if !hasMore || len(page.items) == 0 {
			break
		}
	}

	slog.Debug("tushare query", "api", api, "rows", len(out.items))
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, req request) (*table, bool, error) {
	var (
		page    *table
		hasMore bool
	)
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			page, hasMore, err = c.post(ctx, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("tushare retry", "api", req.APIName, "attempt", n+1, "error", err)
		}),
	)
	return page, hasMore, err
}

func (c *Client) post(ctx context.Context, req request) (*table, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq) //nolint:gosec // URL from internal config
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, false, &StatusError{API: req.APIName, Status: res.StatusCode}
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("parse tushare response: %w", err)
	}
	if resp.Code != 0 {
		return nil, false, &APIError{API: req.APIName, Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil {
		return &table{}, false, nil
	}
	return newTable(resp.Data.Fields, resp.Data.Items), resp.Data.HasMore, nil
}

// retryable keeps transport failures, throttling and server errors; request
// and token errors fail immediately.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.Code]
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}
