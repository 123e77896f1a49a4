// Package resolver implements the dependency resolver (C4): one instance per
// output report, joining its referenced fields by message-id and emitting a
// complete record once every one of them has arrived. It reuses
// pkg/generator's join state machine as is, since C4 runs the same join
// discipline as C3 but terminally: there is no computation function and no
// history window, only assembly and emission.
package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/generator"
	"github.com/pybrook/pybrook/pkg/ids"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
)

// Resolver is one instance of the resolver role for a single output report.
type Resolver struct {
	client       broker.Client
	plan         model.ResolverPlan
	fieldStream  map[string]string
	sep          string
	group        string
	consumer     string
	blockTimeout time.Duration
	batchSize    int64
}

// New constructs a Resolver for plan, reading via client. fieldStream is the
// compiled model.Plan.FieldStream table.
func New(client broker.Client, plan model.ResolverPlan, fieldStream map[string]string, sep, consumer string, blockTimeout time.Duration) *Resolver {
	return &Resolver{
		client:       client,
		plan:         plan,
		fieldStream:  fieldStream,
		sep:          sep,
		group:        "out-" + plan.Report.Name,
		consumer:     consumer,
		blockTimeout: blockTimeout,
		batchSize:    64,
	}
}

func (r *Resolver) depStreams() []string {
	streams := make([]string, 0, len(r.plan.Report.Fields))
	for _, field := range r.plan.Report.Fields {
		streams = append(streams, r.fieldStream[field])
	}
	return streams
}

// Run opens the consumer group on every referenced field's stream and loops
// read -> join -> (maybe) emit -> ack until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) error {
	streams := r.depStreams()
	for _, stream := range streams {
		if err := r.client.EnsureGroup(ctx, stream, r.group); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := r.client.ReadGroup(ctx, r.group, r.consumer, streams, r.batchSize, r.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.L().ErrorContext(ctx, "resolver read failed", "report", r.plan.Report.Name, "error", err)
			continue
		}

		for _, entry := range entries {
			r.handle(ctx, entry)
		}
	}
}

// Reclaim reassigns entries idle longer than minIdle (abandoned by a crashed
// resolver replica) to this consumer and reprocesses them.
func (r *Resolver) Reclaim(ctx context.Context, minIdle time.Duration) error {
	for _, stream := range r.depStreams() {
		entries, err := r.client.Claim(ctx, stream, r.group, r.consumer, minIdle)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			r.handle(ctx, entry)
		}
	}
	return nil
}

func (r *Resolver) handle(ctx context.Context, entry broker.Entry) {
	messageID := entry.Fields["id"]
	valueRaw := entry.Fields["value"]

	fieldName := r.fieldForStream(entry.Stream)

	var value interface{}
	if err := json.Unmarshal([]byte(valueRaw), &value); err != nil {
		logger.L().ErrorContext(ctx, "resolver received malformed value", "report", r.plan.Report.Name, "field", fieldName, "error", err)
		r.client.Ack(ctx, entry.Stream, r.group, entry.ID)
		return
	}

	pendingKey := "pending:out-" + r.plan.Report.Name + ":" + messageID
	pending, err := r.loadPending(ctx, pendingKey, messageID)
	if err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to load pending state", "report", r.plan.Report.Name, "error", err)
		return
	}

	pending.Apply(fieldName, value)

	marshaled, err := pending.Marshal()
	if err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to persist pending state", "report", r.plan.Report.Name, "error", err)
		return
	}
	if err := r.client.KVSet(ctx, pendingKey, marshaled); err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to persist pending state", "report", r.plan.Report.Name, "error", err)
		return
	}

	if err := r.client.Ack(ctx, entry.Stream, r.group, entry.ID); err != nil {
		logger.L().ErrorContext(ctx, "resolver ack failed", "report", r.plan.Report.Name, "error", err)
	}

	if !pending.Ready(r.plan.Report.Fields) {
		return
	}

	r.emit(ctx, messageID, pendingKey, pending)
}

func (r *Resolver) fieldForStream(stream string) string {
	for _, field := range r.plan.Report.Fields {
		if r.fieldStream[field] == stream {
			return field
		}
	}
	return stream
}

func (r *Resolver) loadPending(ctx context.Context, key, messageID string) (*generator.PendingEntry, error) {
	raw, ok, err := r.client.KVGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		parsed, err := ids.Parse(messageID, r.sep)
		if err != nil {
			return nil, err
		}
		return generator.NewPendingEntry(parsed.SourceID), nil
	}
	return generator.UnmarshalPendingEntry(raw)
}

// emit assembles the complete output record and publishes it both to the
// output stream (for durable replay/consumption) and the output channel
// (for the gateway's live fan-out), then clears pending state.
func (r *Resolver) emit(ctx context.Context, messageID, pendingKey string, pending *generator.PendingEntry) {
	record := make(map[string]interface{}, len(pending.Values)+2)
	for field, value := range pending.Values {
		record[field] = value
	}
	record["_msg"] = messageID
	record["_source"] = pending.SourceID

	encoded, err := json.Marshal(record)
	if err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to encode output record", "report", r.plan.Report.Name, "error", err)
		return
	}

	if _, err := r.client.Append(ctx, r.plan.Report.Name, map[string]string{
		"id":    messageID,
		"value": string(encoded),
	}); err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to append output record", "report", r.plan.Report.Name, "error", err)
		return
	}

	if err := r.client.Publish(ctx, r.plan.Report.Name, string(encoded)); err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to publish output record", "report", r.plan.Report.Name, "error", err)
	}

	if err := r.client.KVDel(ctx, pendingKey); err != nil {
		logger.L().ErrorContext(ctx, "resolver failed to clear pending state", "report", r.plan.Report.Name, "error", err)
	}
}
