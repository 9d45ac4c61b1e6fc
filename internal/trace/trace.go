// Package trace carries trace and span IDs through contexts, HTTP requests,
// websocket messages and gRPC metadata, and stamps them on log lines. A
// trace may also name the audio stream its work belongs to.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Metadata keys for gRPC/HTTP propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	StreamIDKey     = "x-stream-id"
	TraceparentKey  = "traceparent"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Stream       string // audio stream ID, empty outside stream work
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// NewChild creates a child span of parent on the same stream.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parent.SpanID,
		Stream:       parent.Stream,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// WithStream tags ctx with an audio stream ID, starting a trace when ctx
// carries none.
func WithStream(ctx context.Context, stream string) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	}
	if tc.Stream == stream {
		return ctx
	}
	tc.Stream = stream
	return WithContext(ctx, tc)
}

// newTraceID returns a 128-bit W3C trace ID.
func newTraceID() string { return randomHex(16) }

// newSpanID returns a 64-bit W3C span ID.
func newSpanID() string { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports the context as gRPC metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{
		TraceIDKey: c.TraceID,
		SpanIDKey:  c.SpanID,
	}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	if c.Stream != "" {
		m[StreamIDKey] = c.Stream
	}
	return m
}

// FromMap builds the receiving side's context. The caller's span becomes
// the parent of a fresh span.
func FromMap(m map[string]string) Context {
	tc := Context{
		TraceID:      m[TraceIDKey],
		SpanID:       newSpanID(),
		ParentSpanID: m[SpanIDKey],
		Stream:       m[StreamIDKey],
	}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}

// Traceparent formats the context as a W3C traceparent header value.
func (c Context) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-01", c.TraceID, c.SpanID)
}

// ParseTraceparent reads a W3C traceparent value. The caller's span
// becomes the parent of a fresh span.
func ParseTraceparent(v string) (Context, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || len(parts[0]) != 2 || !isHex(parts[1], 32) || !isHex(parts[2], 16) {
		return Context{}, false
	}
	if strings.Trim(parts[1], "0") == "" || strings.Trim(parts[2], "0") == "" {
		return Context{}, false
	}
	return Context{TraceID: parts[1], SpanID: newSpanID(), ParentSpanID: parts[2]}, true
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// logArgs returns the key/value pairs Logger stamps on every line.
func (c Context) logArgs() []any {
	args := make([]any, 0, 8)
	args = append(args, "trace_id", c.TraceID, "span_id", c.SpanID)
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.Stream != "" {
		args = append(args, "stream", c.Stream)
	}
	return args
}

// Span is a timed operation, such as one onset log flush.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
	Err       error
}

// StartSpan begins a child span of the trace in ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{
		Name:      name,
		Ctx:       tc,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, tc), s
}

// End stamps the end time once and logs the span: debug normally, warn
// when an error was recorded.
func (s *Span) End() {
	if !s.EndTime.IsZero() {
		return
	}
	s.EndTime = time.Now()
	level := slog.LevelDebug
	if s.Err != nil {
		level = slog.LevelWarn
	}
	slog.Default().Log(context.Background(), level, "span", "span", s)
}

// RecordError attaches err to the span.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Err = err
	s.Attrs["error"] = err.Error()
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// Duration returns span duration, zero until End.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	if s.Ctx.Stream != "" {
		attrs = append(attrs, slog.String("stream", s.Ctx.Stream))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger stamped with the trace in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}
