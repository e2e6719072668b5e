// Package tracer provides a lightweight tracing abstraction for the session pipeline.
//
// Components depend on the Tracer interface rather than on OpenTelemetry directly,
// so tests can run with NoopTracer and binaries with OTelTracer.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start opens a span. The returned context carries it to child operations:
	//
	//	ctx, span := tr.Start(ctx, tracer.SpanAPIRequest,
	//		tracer.String(tracer.AttrHTTPMethod, "POST"),
	//	)
	//	defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// NoopTracer hands out spans that record nothing. Components default to it.
type NoopTracer struct{}

func NewNoop() *NoopTracer {
	return &NoopTracer{}
}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

// Attribute is a key-value pair attached to spans. Values outside string, bool,
// int, int64, uint64, float64 and []string are dropped by OTelTracer.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashEmail returns a short SHA-256 digest of a normalized email so traces
// can be correlated per user without carrying the address.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanAPIRequest     = "api.request"
	SpanSessionInit    = "session.init"
	SpanSessionLogin   = "session.login"
	SpanSessionLogout  = "session.logout"
	SpanSessionRefresh = "session.refresh"
	SpanWalletRefresh  = "wallet.refresh"
)

// Attribute keys.
const (
	AttrClient        = "api.client"
	AttrHTTPMethod    = "http.method"
	AttrHTTPPath      = "http.path"
	AttrHTTPStatus    = "http.status_code"
	AttrAuthenticated = "auth.bearer"
	AttrRequestID     = "request.id"
	AttrUserHash      = "user.hash"
	AttrEpoch         = "session.epoch"
)

// Event names.
const (
	EventTokenLookupFailed = "token.lookup_failed"
	EventEpochBumped       = "session.epoch_bumped"
)
