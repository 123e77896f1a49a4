package logger

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
)

// AsyncHandler buffers records into a channel drained by a single background
// goroutine, so Handle never blocks the caller on the underlying writer.
// When the buffer is full, Handle either blocks (dropOnFull=false) or drops
// the record (dropOnFull=true) rather than apply back-pressure to callers.
type AsyncHandler struct {
	next       slog.Handler
	records    chan slog.Record
	dropOnFull bool
}

// NewAsyncHandler wraps next with a buffered async writer goroutine.
func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	h := &AsyncHandler{
		next:       next,
		records:    make(chan slog.Record, bufferSize),
		dropOnFull: dropOnFull,
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	for r := range h.records {
		_ = h.next.Handle(context.Background(), r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.dropOnFull {
		select {
		case h.records <- r.Clone():
		default:
		}
		return nil
	}
	h.records <- r.Clone()
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, dropOnFull: h.dropOnFull}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, dropOnFull: h.dropOnFull}
}

// sensitiveAttrKeys names the attribute keys RedactHandler masks, matched
// case-insensitively.
var sensitiveAttrKeys = []string{"password", "secret", "token", "authorization", "api_key", "apikey", "ssn", "credit_card"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveAttrKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// RedactHandler masks attribute values whose key looks like it carries a
// credential or PII before they reach the underlying handler.
type RedactHandler struct {
	next slog.Handler
}

// NewRedactHandler wraps next with attribute redaction.
func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if isSensitiveKey(a.Key) {
			a.Value = slog.StringValue("[REDACTED]")
		}
		redacted.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	for i, a := range attrs {
		if isSensitiveKey(a.Key) {
			attrs[i].Value = slog.StringValue("[REDACTED]")
		}
	}
	return &RedactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}

// SamplingHandler forwards only a random fraction of records to next, always
// passing through Warn and above so errors are never sampled away.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

// NewSamplingHandler wraps next, forwarding records with probability rate.
func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelWarn && rand.Float64() > h.rate {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}
