// Package lbrynet is a JSON-RPC client for the lbrynet daemon's "get"
// method, which downloads a claim's stream and reports where it was written.
package lbrynet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// maxResponseBytes bounds a daemon reply.
const maxResponseBytes = 1 << 20

// Compile-time interface check: Client must implement ContentProvider.
var _ types.ContentProvider = (*Client)(nil)

// Client calls a lbrynet daemon over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	id         atomic.Uint64
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each call, including time spent waiting on the limiter.
// A non-positive duration leaves calls bounded only by the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit allows perSecond calls with the given burst. A non-positive
// rate leaves calls unlimited.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewClient creates a client for the daemon at url, for example
// "http://localhost:5279".
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{},
		timeout:    types.DefaultFetchTimeout,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// FetchClaim implements types.ContentProvider by calling "get" for
// qualifiedName. Daemon errors and malformed replies wrap
// types.ErrProvider; deadlines wrap types.ErrTimeout.
func (c *Client) FetchClaim(ctx context.Context, qualifiedName string) (*types.FetchResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var result types.FetchResult
	if err := c.call(ctx, "get", map[string]string{"uri": qualifiedName}, &result); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", qualifiedName, err)
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params, reply any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// Wait refuses up front when the reservation would outlive the deadline.
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return types.WrapTimeout(err)
	}

	body, err := json.Marshal(rpcRequest{ID: c.id.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.WrapTimeout(asDeadline(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.WrapTimeout(asDeadline(err))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d: %s", types.ErrProvider, resp.StatusCode, truncate(data, 256))
	}

	var r rpcReply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: decoding reply: %v", types.ErrProvider, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%w: %s", types.ErrProvider, r.Error.Message)
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return fmt.Errorf("%w: empty result", types.ErrProvider)
	}
	// Older daemons report failures inside the result object.
	var inner struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(r.Result, &inner) == nil && inner.Error != "" {
		return fmt.Errorf("%w: %s", types.ErrProvider, inner.Error)
	}
	if err := json.Unmarshal(r.Result, reply); err != nil {
		return fmt.Errorf("%w: decoding result: %v", types.ErrProvider, err)
	}
	return nil
}

// asDeadline maps an http.Client timeout onto context.DeadlineExceeded so
// callers see one kind of timeout.
func asDeadline(err error) error {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
