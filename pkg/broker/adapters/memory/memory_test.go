package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/pybrook/pybrook/pkg/broker/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadGroup(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.EnsureGroup(ctx, "vehicle", "split-vehicle"))

	id, err := c.Append(ctx, "vehicle", map[string]string{"lat": "1.0"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := c.ReadGroup(ctx, "split-vehicle", "c1", []string{"vehicle"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "1.0", entries[0].Fields["lat"])

	// A second read without acking returns nothing new; the entry is pending.
	entries, err = c.ReadGroup(ctx, "split-vehicle", "c1", []string{"vehicle"}, 10, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.EnsureGroup(ctx, "vehicle", "split-vehicle"))
	require.NoError(t, c.EnsureGroup(ctx, "vehicle", "split-vehicle"))
}

func TestAckRemovesFromPending(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.EnsureGroup(ctx, "vehicle", "g"))
	c.Append(ctx, "vehicle", map[string]string{"lat": "1.0"})

	entries, err := c.ReadGroup(ctx, "g", "c1", []string{"vehicle"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, c.Ack(ctx, "vehicle", "g", entries[0].ID))

	claimed, err := c.Claim(ctx, "vehicle", "g", "c2", 0)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestClaimReassignsStaleEntries(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.EnsureGroup(ctx, "vehicle", "g"))
	c.Append(ctx, "vehicle", map[string]string{"lat": "1.0"})

	_, err := c.ReadGroup(ctx, "g", "crashed-consumer", []string{"vehicle"}, 10, 0)
	require.NoError(t, err)

	claimed, err := c.Claim(ctx, "vehicle", "g", "healthy-consumer", 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestIncrIsAtomicPerKey(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	v, err := c.Incr(ctx, "counter:V1:vehicle", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = c.Incr(ctx, "counter:V1:vehicle", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}

func TestListPushTrimsToMaxLenAndLeftPads(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, c.ListPush(ctx, "hist:V1:lat", v, 2))
	}

	window, err := c.ListRange(ctx, "hist:V1:lat", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"", "b", "c"}, window)
}

func TestScanReturnsKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.KVSet(ctx, "pending:direction:V1:1", "{}"))
	require.NoError(t, c.KVSet(ctx, "pending:direction:V1:2", "{}"))
	require.NoError(t, c.KVSet(ctx, "counter:V1:vehicle", "1"))

	keys, err := c.Scan(ctx, "pending:direction:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pending:direction:V1:1", "pending:direction:V1:2"}, keys)
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := memory.New()
	defer c.Close()

	ch, err := c.Subscribe(ctx, "out")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "out", `{"_msg":"V1:1"}`))

	select {
	case payload := <-ch:
		require.Equal(t, `{"_msg":"V1:1"}`, payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published payload")
	}
}
