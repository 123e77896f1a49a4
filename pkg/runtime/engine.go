// Package runtime is the runtime supervisor (C5): it launches and
// supervises one or more instances of every splitter, generator and
// resolver a compiled model.Plan names, reclaims work abandoned by crashed
// instances, and elects a single leader to garbage-collect each field's
// pending state.
package runtime

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/concurrency/distlock"
	"github.com/pybrook/pybrook/pkg/generator"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/pybrook/pybrook/pkg/resolver"
	"github.com/pybrook/pybrook/pkg/splitter"
)

// Config tunes every role instance the Engine launches.
type Config struct {
	// Replicas is the number of consumer instances launched per role
	// (splitter, generator, resolver). Redis consumer groups make these
	// safe to scale horizontally without double-processing any message.
	Replicas int

	// BlockTimeout bounds each instance's ReadGroup call, keeping shutdown
	// responsive instead of blocking indefinitely inside a single read.
	BlockTimeout time.Duration

	// MaxInFlight bounds each generator's computation worker pool.
	MaxInFlight int

	// ReclaimInterval is how often an instance looks for entries abandoned
	// by a crashed peer in its own consumer group.
	ReclaimInterval time.Duration

	// ReclaimMinIdle is how long an entry must sit unacknowledged before a
	// peer is considered crashed and the entry is reclaimed.
	ReclaimMinIdle time.Duration

	// GCInterval is how often the elected leader sweeps stale pending
	// state for each field.
	GCInterval time.Duration
}

// DefaultConfig returns sensible single-node defaults.
func DefaultConfig() Config {
	return Config{
		Replicas:        1,
		BlockTimeout:    2 * time.Second,
		MaxInFlight:     16,
		ReclaimInterval: 30 * time.Second,
		ReclaimMinIdle:  time.Minute,
		GCInterval:      5 * time.Minute,
	}
}

// Engine launches and supervises every role instance named by a compiled
// plan.
type Engine struct {
	client broker.Client
	plan   *model.Plan
	locker distlock.Locker
	cfg    Config
}

// New constructs an Engine. locker elects a single leader for each field's
// garbage collector, so running with Replicas > 1 (or multiple Engine
// processes sharing a Redis-backed Locker) never sweeps the same keys from
// more than one place at once.
func New(client broker.Client, plan *model.Plan, locker distlock.Locker, cfg Config) *Engine {
	return &Engine{client: client, plan: plan, locker: locker, cfg: cfg}
}

// Launch starts every splitter, generator and resolver instance the plan
// names and blocks until ctx is cancelled or any instance returns an error,
// at which point every other instance is stopped too.
func (e *Engine) Launch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sp := range e.plan.Splitters {
		for i := 0; i < e.cfg.Replicas; i++ {
			consumer := fmt.Sprintf("split-%s-%d", sp.Report.Name, i)
			s := splitter.New(e.client, sp, e.plan.Separator, consumer, e.cfg.BlockTimeout)
			g.Go(func() error { return s.Run(ctx) })
			g.Go(func() error { e.reclaimLoop(ctx, s.Reclaim); return nil })
		}
	}

	for _, gp := range e.plan.Generators {
		for i := 0; i < e.cfg.Replicas; i++ {
			consumer := fmt.Sprintf("gen-%s-%d", gp.Field.Name, i)
			gen := generator.New(e.client, gp, e.plan.FieldStream, e.plan.Separator, consumer, e.cfg.BlockTimeout, e.cfg.MaxInFlight)
			g.Go(func() error { return gen.Run(ctx) })
			g.Go(func() error { e.reclaimLoop(ctx, gen.Reclaim); return nil })
			if i == 0 {
				field := gp.Field.Name
				g.Go(func() error { e.sweepWithLeaderElection(ctx, field, gen.Sweep); return nil })
			}
		}
	}

	for _, rp := range e.plan.Resolvers {
		for i := 0; i < e.cfg.Replicas; i++ {
			consumer := fmt.Sprintf("out-%s-%d", rp.Report.Name, i)
			res := resolver.New(e.client, rp, e.plan.FieldStream, e.plan.Separator, consumer, e.cfg.BlockTimeout)
			g.Go(func() error { return res.Run(ctx) })
			g.Go(func() error { e.reclaimLoop(ctx, res.Reclaim); return nil })
		}
	}

	return g.Wait()
}

func (e *Engine) reclaimLoop(ctx context.Context, reclaim func(ctx context.Context, minIdle time.Duration) error) {
	ticker := time.NewTicker(e.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reclaim(ctx, e.cfg.ReclaimMinIdle); err != nil {
				logger.L().ErrorContext(ctx, "runtime reclaim failed", "error", err)
			}
		}
	}
}

// sweepWithLeaderElection runs sweep on a fixed interval while holding a
// lock scoped to field, so that of every instance launched for this field
// (within this Engine, or in another Engine process sharing the same
// Redis-backed Locker), only the current leader collects garbage at a time.
func (e *Engine) sweepWithLeaderElection(ctx context.Context, field string, sweep func(ctx context.Context) error) {
	lock := e.locker.NewLock("gc:"+field, e.cfg.GCInterval*2)
	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := lock.Acquire(ctx)
			if err != nil {
				logger.L().ErrorContext(ctx, "runtime gc lock acquire failed", "field", field, "error", err)
				continue
			}
			if !acquired {
				continue
			}
			if err := sweep(ctx); err != nil {
				logger.L().ErrorContext(ctx, "runtime gc sweep failed", "field", field, "error", err)
			}
			if err := lock.Release(ctx); err != nil {
				logger.L().ErrorContext(ctx, "runtime gc lock release failed", "field", field, "error", err)
			}
		}
	}
}
