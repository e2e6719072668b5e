// Package apiclient executes JSON requests against one backend service.
//
// Every request looks up the current bearer token first. A failed lookup is logged
// and the request goes out unauthenticated; the backend decides whether that is
// acceptable. Failures come back in two disjoint shapes: *HTTPError when the server
// answered with a non-2xx status, and a network-coded domain error when it could
// not be reached. The client never retries.
package apiclient

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
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tradax/internal/platform/metrics"
	"tradax/internal/platform/tracer"
	dErrors "tradax/pkg/domain-errors"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "tradax-client/1.0"
	maxResponseBytes = 10 << 20

	HeaderRequestID = "X-Request-ID"
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for outgoing requests.
// ("", nil) means no token is stored.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to a single backend service rooted at baseURL.
type Client struct {
	name      string
	baseURL   string
	http      HTTPDoer
	tokens    TokenSource
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
}

type Option func(*Client)

// WithName labels logs, spans and metrics for this client (e.g. "auth", "wallet").
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithTimeout bounds each request made through the default HTTP client.
// It has no effect when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		name:      "api",
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = tracer.NewNoop()
	}
	return c
}

// Name returns the client label.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type requestConfig struct {
	headers http.Header
	query   url.Values
}

// RequestOption adjusts a single request.
type RequestOption func(*requestConfig)

// WithHeader sets a header, overriding any default the client would send.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.headers.Set(key, value)
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.query.Add(key, value)
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete sends a DELETE. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, body, opts...)
}

// Do sends one request. body follows encodeBody's rules.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (resp *Response, err error) {
	start := time.Now()
	rc := &requestConfig{headers: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(rc)
	}
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, tracer.SpanAPIRequest,
		tracer.String(tracer.AttrClient, c.name),
		tracer.String(tracer.AttrHTTPMethod, method),
		tracer.String(tracer.AttrHTTPPath, path),
		tracer.String(tracer.AttrRequestID, requestID),
	)
	outcome := "ok"
	defer func() {
		span.End(err)
		c.metrics.ObserveRequest(c.name, method, outcome, time.Since(start))
	}()

	token := c.lookupToken(ctx, span)
	span.SetAttributes(tracer.Bool(tracer.AttrAuthenticated, token != ""))

	reader, err := encodeBody(body)
	if err != nil {
		outcome = "encode_error"
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, rc.query), reader)
	if err != nil {
		outcome = "encode_error"
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, values := range rc.headers {
		req.Header[key] = values
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		outcome = "network_error"
		c.logger.WarnContext(ctx, "api request failed",
			"client", c.name, "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, networkError(c.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		outcome = "network_error"
		return nil, networkError(c.name, fmt.Errorf("read response: %w", err))
	}
	span.SetAttributes(tracer.Int64(tracer.AttrHTTPStatus, int64(httpResp.StatusCode)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		outcome = "http_error"
		herr := &HTTPError{
			Client:     c.name,
			Method:     method,
			Path:       path,
			StatusCode: httpResp.StatusCode,
			Status:     http.StatusText(httpResp.StatusCode),
			Message:    errorMessage(httpResp.StatusCode, respBody),
			Body:       respBody,
		}
		c.logger.DebugContext(ctx, "api request rejected",
			"client", c.name, "method", method, "path", path, "request_id", requestID,
			"status", httpResp.StatusCode, "message", herr.Message)
		return nil, herr
	}

	c.logger.DebugContext(ctx, "api request completed",
		"client", c.name, "method", method, "path", path, "request_id", requestID,
		"status", httpResp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// lookupToken never fails the request: a broken token source means "send anonymously".
func (c *Client) lookupToken(ctx context.Context, span tracer.Span) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.metrics.IncrementTokenLookupFailures()
		span.AddEvent(tracer.EventTokenLookupFailed)
		c.logger.WarnContext(ctx, "token lookup failed, sending request without credentials",
			"client", c.name, "error", err)
		return ""
	}
	return token
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return u + sep + query.Encode()
}

// encodeBody serializes structured values to JSON. Raw payloads ([]byte, string,
// json.RawMessage, io.Reader) are sent untouched; nil means no body.
func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// errorMessage picks the most useful text for a failed response: the JSON
// "message" field, then "error", then the raw body, then the status line.
func errorMessage(status int, body []byte) string {
	fallback := fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if json.Valid(body) {
			return fallback
		}
		return text
	}
	for _, key := range []string{"message", "error"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
