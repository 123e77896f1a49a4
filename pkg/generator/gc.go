package generator

import (
	"context"
	"time"

	"github.com/pybrook/pybrook/pkg/logger"
)

// Sweep deletes pending:<field>:* entries older than pendingTTL. A message
// whose computation failed (DLQ'd) or whose input will never fully arrive
// would otherwise hold pending state forever.
//
// Age is tracked via a side key pending-seen:pending:<field>:<message-id>,
// set the first time Sweep finds the pending entry, since the broker.Client
// contract has no per-key TTL primitive of its own. An entry is therefore
// deleted once pendingTTL has passed since the sweep that first saw it.
func (g *Generator) Sweep(ctx context.Context) error {
	keys, err := g.client.Scan(ctx, "pending:"+g.plan.Field.Name+":")
	if err != nil {
		return err
	}

	now := time.Now()
	for _, key := range keys {
		seenKey := "pending-seen:" + key
		raw, ok, err := g.client.KVGet(ctx, seenKey)
		if err != nil {
			logger.L().ErrorContext(ctx, "gc sweep failed to read seen marker", "key", key, "error", err)
			continue
		}
		if !ok {
			if err := g.client.KVSet(ctx, seenKey, now.Format(time.RFC3339Nano)); err != nil {
				logger.L().ErrorContext(ctx, "gc sweep failed to set seen marker", "key", key, "error", err)
			}
			continue
		}

		seenAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil || now.Sub(seenAt) < g.pendingTTL {
			continue
		}

		if err := g.client.KVDel(ctx, key); err != nil {
			logger.L().ErrorContext(ctx, "gc sweep failed to delete stale pending entry", "key", key, "error", err)
			continue
		}
		if err := g.client.KVDel(ctx, seenKey); err != nil {
			logger.L().ErrorContext(ctx, "gc sweep failed to delete seen marker", "key", seenKey, "error", err)
		}
		logger.L().InfoContext(ctx, "gc sweep removed stale pending entry", "field", g.plan.Field.Name, "key", key)
	}
	return nil
}

// RunSweeper periodically calls Sweep until ctx is cancelled.
func (g *Generator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Sweep(ctx); err != nil {
				logger.L().ErrorContext(ctx, "gc sweep failed", "field", g.plan.Field.Name, "error", err)
			}
		}
	}
}
