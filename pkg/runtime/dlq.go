package runtime

import (
	"context"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/model"
)

// DeadLetter is one record written to a report's DLQ stream.
type DeadLetter struct {
	EntryID string
	Field   string
	Message string
	Error   string
}

// ReadDeadLetters reads up to count dead-letter records written against name
// (an input report, for splitter-originated DLQ entries, or a derived field,
// for generator-originated ones), oldest first, that no earlier call has
// returned. It reads through its own "dlq-inspect" consumer group and
// acknowledges each record there, so every record is returned by one call
// only. It exists so operators and tests can inspect what a
// splitter or generator gave up on without standing up a full consumer
// group of their own.
func ReadDeadLetters(ctx context.Context, client broker.Client, name string, count int64) ([]DeadLetter, error) {
	stream := model.DLQStream(name)
	const inspectionGroup = "dlq-inspect"

	if err := client.EnsureGroup(ctx, stream, inspectionGroup); err != nil {
		return nil, err
	}

	entries, err := client.ReadGroup(ctx, inspectionGroup, "inspector", []string{stream}, count, 0)
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		out = append(out, DeadLetter{
			EntryID: entry.Fields["entry"],
			Field:   entry.Fields["field"],
			Message: entry.Fields["message_id"],
			Error:   entry.Fields["error"],
		})
		// The inspection group only observes; it never competes with a real
		// consumer for these entries, so ack immediately rather than leave
		// them pending forever against this group.
		_ = client.Ack(ctx, stream, inspectionGroup, entry.ID)
	}
	return out, nil
}
