package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/concurrency"
	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/ids"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
)

// Generator is one instance of the generator role for a single artificial
// field.
type Generator struct {
	client       broker.Client
	plan         model.GeneratorPlan
	fieldStream  map[string]string
	sep          string
	group        string
	consumer     string
	blockTimeout time.Duration
	batchSize    int64
	pendingTTL   time.Duration

	pool *concurrency.WorkerPool
}

// New constructs a Generator for plan. fieldStream is the compiled
// model.Plan.FieldStream table, used to resolve which stream each current
// dependency is read from. maxInFlight bounds the computation worker pool,
// the mechanism that keeps a slow field function from piling up unbounded
// in-flight work.
func New(client broker.Client, plan model.GeneratorPlan, fieldStream map[string]string, sep, consumer string, blockTimeout time.Duration, maxInFlight int) *Generator {
	return &Generator{
		client:       client,
		plan:         plan,
		fieldStream:  fieldStream,
		sep:          sep,
		group:        "gen-" + plan.Field.Name,
		consumer:     consumer,
		blockTimeout: blockTimeout,
		batchSize:    64,
		pendingTTL:   10 * time.Minute,
		pool:         concurrency.NewWorkerPool(maxInFlight, maxInFlight*4),
	}
}

func (g *Generator) depStreams() []string {
	streams := make([]string, 0, len(g.plan.Field.Current))
	for _, dep := range g.plan.Field.Current {
		streams = append(streams, g.fieldStream[dep])
	}
	return streams
}

// Run opens the consumer group on every current-dependency stream and loops
// read -> join -> (maybe) compute -> publish -> ack until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.pool.Start(ctx)
	defer g.pool.Stop()

	streams := g.depStreams()
	for _, stream := range streams {
		if err := g.client.EnsureGroup(ctx, stream, g.group); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := g.client.ReadGroup(ctx, g.group, g.consumer, streams, g.batchSize, g.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.L().ErrorContext(ctx, "generator read failed", "field", g.plan.Field.Name, "error", err)
			continue
		}

		for _, entry := range entries {
			g.handle(ctx, entry)
		}
	}
}

// Reclaim reassigns entries idle longer than minIdle (abandoned by a crashed
// generator replica) to this consumer and reprocesses them through the same
// join logic Run uses.
func (g *Generator) Reclaim(ctx context.Context, minIdle time.Duration) error {
	for _, stream := range g.depStreams() {
		entries, err := g.client.Claim(ctx, stream, g.group, g.consumer, minIdle)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			g.handle(ctx, entry)
		}
	}
	return nil
}

func (g *Generator) handle(ctx context.Context, entry broker.Entry) {
	messageID := entry.Fields["id"]
	valueRaw := entry.Fields["value"]

	fieldName := g.fieldForStream(entry.Stream)

	var value interface{}
	if err := json.Unmarshal([]byte(valueRaw), &value); err != nil {
		logger.L().ErrorContext(ctx, "generator received malformed value", "field", g.plan.Field.Name, "dep", fieldName, "error", err)
		g.client.Ack(ctx, entry.Stream, g.group, entry.ID)
		return
	}

	pendingKey := "pending:" + g.plan.Field.Name + ":" + messageID
	pending, err := g.loadPending(ctx, pendingKey, messageID)
	if err != nil {
		logger.L().ErrorContext(ctx, "generator failed to load pending state", "field", g.plan.Field.Name, "error", err)
		return
	}

	pending.Apply(fieldName, value)

	marshaled, err := pending.Marshal()
	if err != nil {
		logger.L().ErrorContext(ctx, "generator failed to persist pending state", "field", g.plan.Field.Name, "error", err)
		return
	}
	if err := g.client.KVSet(ctx, pendingKey, marshaled); err != nil {
		logger.L().ErrorContext(ctx, "generator failed to persist pending state", "field", g.plan.Field.Name, "error", err)
		return
	}

	if err := g.client.Ack(ctx, entry.Stream, g.group, entry.ID); err != nil {
		logger.L().ErrorContext(ctx, "generator ack failed", "field", g.plan.Field.Name, "error", err)
	}

	if !pending.Ready(g.plan.Field.Current) {
		return
	}

	g.pool.Submit(func(computeCtx context.Context) {
		g.compute(computeCtx, messageID, pendingKey, pending)
	})
}

func (g *Generator) fieldForStream(stream string) string {
	for _, dep := range g.plan.Field.Current {
		if g.fieldStream[dep] == stream {
			return dep
		}
	}
	return stream
}

func (g *Generator) loadPending(ctx context.Context, key, messageID string) (*PendingEntry, error) {
	raw, ok, err := g.client.KVGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		parsed, err := ids.Parse(messageID, g.sep)
		if err != nil {
			return nil, err
		}
		return NewPendingEntry(parsed.SourceID), nil
	}
	return UnmarshalPendingEntry(raw)
}

// compute reads history windows (step a), invokes the user function (step
// b/c), publishes the result and updates observer ring buffers (step d/e),
// and clears pending state (step f). History is read before the value this
// invocation itself may push to its own ring buffer, which is exactly the
// ordering invariant 4 requires.
func (g *Generator) compute(ctx context.Context, messageID, pendingKey string, pending *PendingEntry) {
	history := make(map[string]model.History, len(g.plan.Field.Historical))
	for _, dep := range g.plan.Field.Historical {
		window, err := g.readHistory(ctx, pending.SourceID, dep)
		if err != nil {
			logger.L().ErrorContext(ctx, "generator failed to read history", "field", g.plan.Field.Name, "dep", dep.Name, "error", err)
			return
		}
		history[dep.Name] = window
	}

	result, err := g.plan.Field.Fn(model.Values(pending.Values), history)
	if err != nil {
		g.deadLetter(ctx, messageID, err)
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		g.deadLetter(ctx, messageID, errors.Wrap(err, "failed to encode result"))
		return
	}

	stream := g.fieldStream[g.plan.Field.Name]
	if _, err := g.client.Append(ctx, stream, map[string]string{"id": messageID, "value": string(encoded)}); err != nil {
		logger.L().ErrorContext(ctx, "generator failed to publish result", "field", g.plan.Field.Name, "error", err)
		return
	}

	if len(g.plan.Observers) > 0 {
		if err := g.client.ListPush(ctx, "hist:"+pending.SourceID+":"+g.plan.Field.Name, string(encoded), int64(g.plan.HistoryWindow)); err != nil {
			logger.L().ErrorContext(ctx, "generator failed to push history", "field", g.plan.Field.Name, "error", err)
		}
	}

	if err := g.client.KVDel(ctx, pendingKey); err != nil {
		logger.L().ErrorContext(ctx, "generator failed to clear pending state", "field", g.plan.Field.Name, "error", err)
	}
}

func (g *Generator) readHistory(ctx context.Context, sourceID string, dep model.Historical) (model.History, error) {
	raw, err := g.client.ListRange(ctx, "hist:"+sourceID+":"+dep.Name, int64(dep.Window))
	if err != nil {
		return nil, err
	}

	window := make(model.History, len(raw))
	for i, entry := range raw {
		if entry == "" {
			window[i] = nil
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(entry), &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode history entry")
		}
		window[i] = v
	}
	return window, nil
}

// deadLetter records that the field's computation failed: a DLQ record is
// written and the message remains pending forever (GC'd later by Sweep),
// never reaching a dependent output.
func (g *Generator) deadLetter(ctx context.Context, messageID string, cause error) {
	_, err := g.client.Append(ctx, model.DLQStream(g.plan.Field.Name), map[string]string{
		"message_id": messageID,
		"field":      g.plan.Field.Name,
		"error":      cause.Error(),
	})
	if err != nil {
		logger.L().ErrorContext(ctx, "generator failed to write DLQ record", "field", g.plan.Field.Name, "error", err)
	}
}
