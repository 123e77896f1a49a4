// Package redis implements pkg/broker.Client over Redis Streams, hashes and
// lists using github.com/redis/go-redis/v9. Consumer-group semantics map
// directly onto XADD/XREADGROUP/XACK/XAUTOCLAIM; history ring buffers use
// RPUSH+LTRIM for an atomic push-and-trim.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client is a Redis-backed broker.Client.
type Client struct {
	rdb *goredis.Client
}

// New dials Redis per cfg and verifies connectivity with a PING.
func New(cfg broker.Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, broker.ErrConnectionFailed(err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", broker.ErrAppendFailed(stream, err)
	}
	return id, nil
}

func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.New(broker.CodeGroupExists, "failed to create consumer group", err)
	}
	return nil
}

func (c *Client) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]broker.Entry, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	// go-redis sends BLOCK 0 (wait forever) for a zero Block and omits BLOCK
	// for a negative one, so a non-positive block returns at once.
	if block <= 0 {
		block = -1
	}

	res, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, broker.ErrReadFailed(err)
	}

	var entries []broker.Entry
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			entries = append(entries, toEntry(streamRes.Stream, msg))
		}
	}
	return entries, nil
}

func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return broker.ErrAckFailed(stream, id, err)
	}
	return nil
}

func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration) ([]broker.Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim stale entries")
	}

	entries := make([]broker.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(stream, msg))
	}
	return entries, nil
}

func (c *Client) KVGet(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get key")
	}
	return v, true, nil
}

func (c *Client) KVSet(ctx context.Context, key, value string) error {
	return errors.Wrap(c.rdb.Set(ctx, key, value, 0).Err(), "failed to set key")
}

func (c *Client) KVDel(ctx context.Context, key string) error {
	return errors.Wrap(c.rdb.Del(ctx, key).Err(), "failed to delete key")
}

func (c *Client) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := c.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to incr key")
	}
	return v, nil
}

func (c *Client) Scan(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan keys")
	}
	return out, nil
}

func (c *Client) ListPush(ctx context.Context, key, value string, maxLen int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, value)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, -maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to push history entry")
	}
	return nil
}

func (c *Client) ListRange(ctx context.Context, key string, n int64) ([]string, error) {
	vals, err := c.rdb.LRange(ctx, key, -n, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to range history list")
	}

	out := make([]string, n)
	pad := n - int64(len(vals))
	for i := int64(0); i < n; i++ {
		if i < pad {
			out[i] = ""
			continue
		}
		out[i] = vals[i-pad]
	}
	return out, nil
}

func (c *Client) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to measure history list")
	}
	return n, nil
}

func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return errors.Wrap(c.rdb.Publish(ctx, channel, payload).Err(), "failed to publish")
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := c.rdb.Subscribe(ctx, channel)
	redisCh := sub.Channel()
	out := make(chan string, 64)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func toEntry(stream string, msg goredis.XMessage) broker.Entry {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		fields[k] = fmt.Sprintf("%v", v)
	}
	return broker.Entry{Stream: stream, ID: msg.ID, Fields: fields}
}
