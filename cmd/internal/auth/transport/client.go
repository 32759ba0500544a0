package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"argus/cmd/internal/metrics"
	"argus/cmd/security/token"
)

const maxErrorBodyBytes = 64 << 10

// Request describes one REST call. At most one of Form and JSON should be set.
type Request struct {
	Method string
	// Path is resolved against the client's base URL ("/auth/me", "/sessions/abc/start").
	Path  string
	Query url.Values
	Form  url.Values
	JSON  any
}

// ExpiredEvent is delivered to authorization-expired listeners.
type ExpiredEvent struct {
	Method string
	Path   string
	// TokenFingerprint identifies the credential that was rejected.
	TokenFingerprint string
}

// Client is the authenticated transport.
type Client struct {
	base *url.URL
	hc   *http.Client
	log  *slog.Logger

	timeout time.Duration

	mu        sync.Mutex
	token     string
	epoch     uint64
	listeners map[uint64]func(ExpiredEvent)
	nextSub   uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Transport is wrapped with request logging.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimeout sets a per-request timeout. Zero keeps the platform default (none).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Client rooted at baseURL (for example "http://localhost:8000/api/v1").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrConfig)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		base:      u,
		hc:        &http.Client{},
		log:       slog.Default(),
		listeners: make(map[uint64]func(ExpiredEvent)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	hc := *c.hc
	hc.Transport = WithRequestLogging(hc.Transport, c.log)
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.hc = &hc
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// SetCredential replaces the token used to sign subsequent requests. An empty token disarms
// the client. In-flight requests keep the token they were sent with.
func (c *Client) SetCredential(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
	c.epoch++
}

// Credential returns the currently armed token ("" when disarmed).
func (c *Client) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnAuthorizationExpired registers fn and returns a function that removes it.
// Listeners run synchronously on the goroutine that observed the 401, before Do returns.
func (c *Client) OnAuthorizationExpired(fn func(ExpiredEvent)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses return *RequestFailed; network failures wrap ErrTransportUnavailable.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sentToken, sentEpoch := c.token, c.epoch
	c.mu.Unlock()

	if sentToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+sentToken)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransportUnavailable, req.Method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		rf := &RequestFailed{Status: resp.StatusCode, ServerMessage: serverMessage(body)}
		if resp.StatusCode == http.StatusUnauthorized {
			c.expire(sentToken, sentEpoch, req)
		}
		return rf
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransportUnavailable, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

// expire disarms the client and notifies listeners once per armed credential. A 401 for a
// request signed with an older (or absent) credential does nothing beyond the returned error.
func (c *Client) expire(sentToken string, sentEpoch uint64, req Request) {
	if sentToken == "" {
		return
	}

	c.mu.Lock()
	if c.epoch != sentEpoch || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.epoch++
	fns := make([]func(ExpiredEvent), 0, len(c.listeners))
	for id := uint64(1); id <= c.nextSub; id++ {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	ev := ExpiredEvent{Method: req.Method, Path: req.Path, TokenFingerprint: token.Fingerprint(sentToken)}
	c.log.Warn("transport.unauthorized", "method", req.Method, "path", req.Path, "token_fp", ev.TokenFingerprint)
	metrics.AuthorizationExpiredTotal.Inc()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, req.Path, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

// serverMessage extracts a human-readable message from common backend error shapes:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"error": {"message": "..."}}, {"message": "..."}.
func serverMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var shape struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return truncate(string(body), 200)
	}

	if len(shape.Detail) > 0 {
		var s string
		if err := json.Unmarshal(shape.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(shape.Detail, &items); err == nil && len(items) > 0 {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if shape.Error != nil && shape.Error.Message != "" {
		return shape.Error.Message
	}
	return shape.Message
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
