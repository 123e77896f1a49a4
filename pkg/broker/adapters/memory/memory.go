// Package memory implements pkg/broker.Client entirely in-process, for
// tests and single-binary local development. It reproduces Redis Streams
// consumer-group semantics (per-group read cursor, a pending-entries list
// per consumer, idle-based claiming) closely enough that the same test
// suite exercises both this adapter and pkg/broker/adapters/redis.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/errors"
)

type pendingEntry struct {
	entry       broker.Entry
	consumer    string
	deliveredAt time.Time
}

type group struct {
	cursor  int
	pending map[string]*pendingEntry
}

type stream struct {
	entries []broker.Entry
	nextSeq uint64
	groups  map[string]*group
}

// Client is an in-memory broker.Client.
type Client struct {
	mu      sync.Mutex
	streams map[string]*stream
	kv      map[string]string
	lists   map[string][]string
	subs    map[string][]chan string
}

// New creates an empty in-memory broker client.
func New() *Client {
	return &Client{
		streams: make(map[string]*stream),
		kv:      make(map[string]string),
		lists:   make(map[string][]string),
		subs:    make(map[string][]chan string),
	}
}

func (c *Client) streamFor(name string) *stream {
	s, ok := c.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group)}
		c.streams[name] = s
	}
	return s
}

func (c *Client) Append(ctx context.Context, streamName string, fields map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.streamFor(streamName)
	s.nextSeq++
	id := strconv.FormatUint(s.nextSeq, 10)
	s.entries = append(s.entries, broker.Entry{Stream: streamName, ID: id, Fields: cloneFields(fields)})
	return id, nil
}

func (c *Client) EnsureGroup(ctx context.Context, streamName, groupName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.streamFor(streamName)
	if _, ok := s.groups[groupName]; ok {
		return nil
	}
	// Like the redis adapter's XGROUP CREATE ... 0, a new group starts at
	// the stream's first entry.
	s.groups[groupName] = &group{cursor: 0, pending: make(map[string]*pendingEntry)}
	return nil
}

func (c *Client) ReadGroup(ctx context.Context, groupName, consumer string, streamNames []string, count int64, block time.Duration) ([]broker.Entry, error) {
	deadline := time.Now().Add(block)
	for {
		entries := c.tryRead(groupName, consumer, streamNames, count)
		if len(entries) > 0 || block <= 0 {
			return entries, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Client) tryRead(groupName, consumer string, streamNames []string, count int64) []broker.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []broker.Entry
	for _, name := range streamNames {
		s, ok := c.streams[name]
		if !ok {
			continue
		}
		g, ok := s.groups[groupName]
		if !ok {
			continue
		}
		for g.cursor < len(s.entries) && int64(len(out)) < count {
			e := s.entries[g.cursor]
			g.cursor++
			g.pending[e.ID] = &pendingEntry{entry: e, consumer: consumer, deliveredAt: time.Now()}
			out = append(out, e)
		}
		if int64(len(out)) >= count {
			break
		}
	}
	return out
}

func (c *Client) Ack(ctx context.Context, streamName, groupName, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[streamName]
	if !ok {
		return nil
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	return nil
}

func (c *Client) Claim(ctx context.Context, streamName, groupName, consumer string, minIdle time.Duration) ([]broker.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[streamName]
	if !ok {
		return nil, nil
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil, nil
	}

	var claimed []broker.Entry
	now := time.Now()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pe := g.pending[id]
		if now.Sub(pe.deliveredAt) >= minIdle {
			pe.consumer = consumer
			pe.deliveredAt = now
			claimed = append(claimed, pe.entry)
		}
	}
	return claimed, nil
}

func (c *Client) KVGet(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	return v, ok, nil
}

func (c *Client) KVSet(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

func (c *Client) KVDel(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *Client) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cur int64
	if v, ok := c.kv[key]; ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "stored value is not an integer")
		}
		cur = parsed
	}
	cur += delta
	c.kv[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (c *Client) Scan(ctx context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for k := range c.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) ListPush(ctx context.Context, key, value string, maxLen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := append(c.lists[key], value)
	if maxLen > 0 && int64(len(l)) > maxLen {
		l = l[int64(len(l))-maxLen:]
	}
	c.lists[key] = l
	return nil
}

func (c *Client) ListRange(ctx context.Context, key string, n int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.lists[key]
	out := make([]string, n)
	start := int64(len(l)) - n
	for i := int64(0); i < n; i++ {
		idx := start + i
		if idx < 0 || idx >= int64(len(l)) {
			out[i] = ""
			continue
		}
		out[i] = l[idx]
	}
	return out, nil
}

func (c *Client) ListLen(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.lists[key])), nil
}

func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	c.mu.Lock()
	subs := append([]chan string(nil), c.subs[channel]...)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 64)

	c.mu.Lock()
	c.subs[channel] = append(c.subs[channel], ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[channel]
		for i, existing := range subs {
			if existing == ch {
				c.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (c *Client) Close() error {
	return nil
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
