package broker

import (
	"context"
	"time"

	"github.com/pybrook/pybrook/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps a Client with logging and OpenTelemetry spans,
// the same shape as the teacher library's InstrumentedCache.
type InstrumentedClient struct {
	next   Client
	tracer trace.Tracer
}

// NewInstrumentedClient wraps next.
func NewInstrumentedClient(next Client) *InstrumentedClient {
	return &InstrumentedClient{next: next, tracer: otel.Tracer("pkg/broker")}
}

func (c *InstrumentedClient) traced(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, op+" failed", "error", err)
	}
	return err
}

func (c *InstrumentedClient) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	var id string
	err := c.traced(ctx, "broker.Append", []attribute.KeyValue{attribute.String("broker.stream", stream)}, func(ctx context.Context) error {
		var err error
		id, err = c.next.Append(ctx, stream, fields)
		return err
	})
	return id, err
}

func (c *InstrumentedClient) EnsureGroup(ctx context.Context, stream, group string) error {
	return c.traced(ctx, "broker.EnsureGroup", []attribute.KeyValue{
		attribute.String("broker.stream", stream), attribute.String("broker.group", group),
	}, func(ctx context.Context) error {
		return c.next.EnsureGroup(ctx, stream, group)
	})
}

func (c *InstrumentedClient) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]Entry, error) {
	var entries []Entry
	err := c.traced(ctx, "broker.ReadGroup", []attribute.KeyValue{
		attribute.String("broker.group", group), attribute.String("broker.consumer", consumer),
	}, func(ctx context.Context) error {
		var err error
		entries, err = c.next.ReadGroup(ctx, group, consumer, streams, count, block)
		return err
	})
	return entries, err
}

func (c *InstrumentedClient) Ack(ctx context.Context, stream, group, id string) error {
	return c.traced(ctx, "broker.Ack", []attribute.KeyValue{
		attribute.String("broker.stream", stream), attribute.String("broker.id", id),
	}, func(ctx context.Context) error {
		return c.next.Ack(ctx, stream, group, id)
	})
}

func (c *InstrumentedClient) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration) ([]Entry, error) {
	var entries []Entry
	err := c.traced(ctx, "broker.Claim", []attribute.KeyValue{
		attribute.String("broker.stream", stream),
	}, func(ctx context.Context) error {
		var err error
		entries, err = c.next.Claim(ctx, stream, group, consumer, minIdle)
		return err
	})
	return entries, err
}

func (c *InstrumentedClient) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := c.traced(ctx, "broker.KVGet", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		var err error
		value, ok, err = c.next.KVGet(ctx, key)
		return err
	})
	return value, ok, err
}

func (c *InstrumentedClient) KVSet(ctx context.Context, key, value string) error {
	return c.traced(ctx, "broker.KVSet", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		return c.next.KVSet(ctx, key, value)
	})
}

func (c *InstrumentedClient) KVDel(ctx context.Context, key string) error {
	return c.traced(ctx, "broker.KVDel", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		return c.next.KVDel(ctx, key)
	})
}

func (c *InstrumentedClient) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var result int64
	err := c.traced(ctx, "broker.Incr", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		var err error
		result, err = c.next.Incr(ctx, key, delta)
		return err
	})
	return result, err
}

func (c *InstrumentedClient) Scan(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := c.traced(ctx, "broker.Scan", []attribute.KeyValue{attribute.String("broker.prefix", prefix)}, func(ctx context.Context) error {
		var err error
		out, err = c.next.Scan(ctx, prefix)
		return err
	})
	return out, err
}

func (c *InstrumentedClient) ListPush(ctx context.Context, key, value string, maxLen int64) error {
	return c.traced(ctx, "broker.ListPush", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		return c.next.ListPush(ctx, key, value, maxLen)
	})
}

func (c *InstrumentedClient) ListRange(ctx context.Context, key string, n int64) ([]string, error) {
	var out []string
	err := c.traced(ctx, "broker.ListRange", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		var err error
		out, err = c.next.ListRange(ctx, key, n)
		return err
	})
	return out, err
}

func (c *InstrumentedClient) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.traced(ctx, "broker.ListLen", []attribute.KeyValue{attribute.String("broker.key", key)}, func(ctx context.Context) error {
		var err error
		n, err = c.next.ListLen(ctx, key)
		return err
	})
	return n, err
}

func (c *InstrumentedClient) Publish(ctx context.Context, channel, payload string) error {
	return c.traced(ctx, "broker.Publish", []attribute.KeyValue{attribute.String("broker.channel", channel)}, func(ctx context.Context) error {
		return c.next.Publish(ctx, channel, payload)
	})
}

func (c *InstrumentedClient) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	return c.next.Subscribe(ctx, channel)
}

func (c *InstrumentedClient) Close() error {
	return c.next.Close()
}

var _ Client = (*InstrumentedClient)(nil)
