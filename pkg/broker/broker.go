// Package broker defines the append-only-stream-plus-KV contract every
// PyBrook role (splitter, generator, resolver, runtime) is built against.
//
// The Client interface and Config in this file have no third-party imports,
// mirroring the adapter-pattern split used elsewhere in this module
// (pkg/cache, pkg/resilience): the interface here is backend-agnostic, and
// each backend lives in its own adapters/<backend> sub-package. The
// InstrumentedClient decorator in this package imports OpenTelemetry.
//
// Usage:
//
//	import "github.com/pybrook/pybrook/pkg/broker/adapters/redis"
//
//	client, err := redis.New(broker.Config{Addr: "localhost:6379"})
//	_, err = client.Append(ctx, "vehicle", map[string]string{"lat": "1.0"})
package broker

import (
	"context"
	"time"
)

// Entry is one record read back from a stream, keyed by the broker-assigned
// entry id (which may differ from a PyBrook message id carried in Fields).
type Entry struct {
	Stream string
	ID     string
	Fields map[string]string
}

// Client is the contract every broker backend must satisfy.
type Client interface {
	// Append writes fields to stream and returns the broker-assigned entry id.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)

	// EnsureGroup creates group on stream starting at the stream's first
	// entry, so entries appended before the group existed are still
	// delivered to it, and creates the stream if necessary. Must be
	// idempotent: calling it twice for the same
	// (stream, group) is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup reads up to count entries across streams that have not yet
	// been delivered to group, recording them as pending for consumer until
	// acked, blocking up to block waiting for new entries. Entries already
	// pending are not returned again; Claim re-drives them.
	// A block of 0 means "return immediately if nothing is available".
	ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]Entry, error)

	// Ack acknowledges id on stream within group.
	Ack(ctx context.Context, stream, group, id string) error

	// Claim reclaims entries on stream within group idle longer than minIdle,
	// reassigning them to consumer. Used to re-drive work abandoned by a
	// crashed role instance.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration) ([]Entry, error)

	// KVGet returns the scalar value stored at key, or "" and ok=false.
	KVGet(ctx context.Context, key string) (value string, ok bool, err error)

	// KVSet stores value at key unconditionally.
	KVSet(ctx context.Context, key, value string) error

	// KVDel removes key. Not an error if it does not exist.
	KVDel(ctx context.Context, key string) error

	// Incr atomically adds delta to the integer stored at key (0 if absent)
	// and returns the new value. Backs the splitter's per-source counter.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Scan returns every KV key with the given prefix. Used by the
	// pending-state garbage collector to find stale pending:<f>:* entries.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// ListPush appends value to the tail of the list at key, then trims the
	// list to at most maxLen entries (dropping from the head). Used for
	// bounded history ring buffers; push and trim are a single atomic
	// operation so history invariants hold under concurrent generators.
	ListPush(ctx context.Context, key string, value string, maxLen int64) error

	// ListRange returns the last n entries of the list at key, oldest first,
	// left-padded with "" when fewer than n entries exist.
	ListRange(ctx context.Context, key string, n int64) ([]string, error)

	// ListLen returns the current length of the list at key.
	ListLen(ctx context.Context, key string) (int64, error)

	// Publish fans out payload to subscribers of channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe returns a channel of payloads published to channel. The
	// returned channel is closed when ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)

	// Close releases all resources held by the client.
	Close() error
}

// Config holds the fields every adapter accepts, matching the teacher
// library's convention of an env-tagged Config struct per backend package.
type Config struct {
	// Driver selects the backend: "memory" or "redis".
	Driver string `env:"BROKER_DRIVER" env-default:"memory"`

	// Addr is the broker endpoint (e.g. "localhost:6379" for Redis).
	Addr string `env:"REDIS_URL" env-default:"localhost:6379"`

	// Password authenticates against the broker (Redis only).
	Password string `env:"BROKER_PASSWORD"`

	// DB selects the logical database (Redis only).
	DB int `env:"BROKER_DB" env-default:"0"`

	// BlockTimeout bounds how long ReadGroup waits for new entries, keeping
	// shutdown responsive instead of blocking indefinitely inside one read.
	BlockTimeout time.Duration `env:"BROKER_BLOCK_TIMEOUT" env-default:"2s"`
}
