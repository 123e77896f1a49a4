// Package splitter implements the splitter role (C2): normalizes incoming
// input-report records into per-field sub-streams, assigning each record a
// gap-free, per-source message identifier.
package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/concurrency"
	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/ids"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
)

// Splitter is one instance of the splitter role for a single input report.
type Splitter struct {
	client         broker.Client
	plan           model.SplitterPlan
	sep            string
	group          string
	consumer       string
	blockTimeout   time.Duration
	batchSize      int64
	batchWorkers   int
	fieldFanOutSem *concurrency.Semaphore
}

// New constructs a Splitter for plan, reading/writing via client.
func New(client broker.Client, plan model.SplitterPlan, sep, consumer string, blockTimeout time.Duration) *Splitter {
	return &Splitter{
		client:         client,
		plan:           plan,
		sep:            sep,
		group:          "split-" + plan.Report.Name,
		consumer:       consumer,
		blockTimeout:   blockTimeout,
		batchSize:      64,
		batchWorkers:   8,
		fieldFanOutSem: concurrency.NewSemaphore(16),
	}
}

// Run opens the consumer group and loops read -> process -> ack until ctx
// is cancelled, draining any in-flight batch before returning.
func (s *Splitter) Run(ctx context.Context) error {
	if err := s.client.EnsureGroup(ctx, s.plan.Report.Name, s.group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := s.client.ReadGroup(ctx, s.group, s.consumer, []string{s.plan.Report.Name}, s.batchSize, s.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.L().ErrorContext(ctx, "splitter read failed", "report", s.plan.Report.Name, "error", err)
			continue
		}

		s.processBatch(ctx, entries)
	}
}

// processBatch runs process+ack for every entry of one polled batch
// concurrently across s.batchWorkers goroutines, so a batch with many
// entries isn't serialized behind whichever one is slowest.
func (s *Splitter) processBatch(ctx context.Context, entries []broker.Entry) {
	workers := s.batchWorkers
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers == 0 {
		return
	}

	input := concurrency.Generator(ctx, entries...)
	acked := concurrency.FanOutFanIn(ctx, input, workers, func(ctx context.Context, entry broker.Entry) (string, error) {
		if err := s.process(ctx, entry); err != nil {
			logger.L().ErrorContext(ctx, "splitter failed to process entry", "report", s.plan.Report.Name, "entry", entry.ID, "error", err)
			return "", err
		}
		if err := s.client.Ack(ctx, s.plan.Report.Name, s.group, entry.ID); err != nil {
			logger.L().ErrorContext(ctx, "splitter ack failed", "report", s.plan.Report.Name, "entry", entry.ID, "error", err)
			return "", err
		}
		return entry.ID, nil
	})
	for range acked {
	}
}

// Reclaim reassigns entries idle longer than minIdle (abandoned by a crashed
// splitter replica) to this consumer and reprocesses them. Reprocessing is
// safe to repeat because assignMessageID is keyed by the input entry id,
// not by delivery attempt.
func (s *Splitter) Reclaim(ctx context.Context, minIdle time.Duration) error {
	entries, err := s.client.Claim(ctx, s.plan.Report.Name, s.group, s.consumer, minIdle)
	if err != nil {
		return err
	}
	s.processBatch(ctx, entries)
	return nil
}

func (s *Splitter) process(ctx context.Context, entry broker.Entry) error {
	record, err := s.decode(entry)
	if err != nil {
		return s.deadLetter(ctx, entry.ID, err)
	}

	idFieldRaw, ok := record[s.plan.Report.IDField]
	if !ok {
		return s.deadLetter(ctx, entry.ID, errors.InvalidArgument("record missing id_field "+s.plan.Report.IDField, nil))
	}
	sourceID := fmt.Sprintf("%v", idFieldRaw)

	messageID, seq, err := s.assignMessageID(ctx, entry.ID, sourceID)
	if err != nil {
		return err
	}

	// Each field's sub-stream (and history push) is independent of every
	// other field's, so they fan out across goroutines rather than writing
	// one field at a time. fieldFanOutSem caps how many of those goroutines
	// hold an outstanding broker call at once, so a report with a wide
	// field list doesn't open one broker call per field simultaneously.
	fields := s.plan.Report.Fields
	var mu sync.Mutex
	var firstErr error
	concurrency.FanOut(ctx, len(fields), func(i int) {
		field := fields[i]
		value, present := record[field]
		if !present {
			return
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Wrap(err, "failed to encode field "+field)
			}
			mu.Unlock()
			return
		}

		if err := s.fieldFanOutSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return
		}
		defer s.fieldFanOutSem.Release(1)

		stream := s.plan.Report.Name + ":" + field
		if _, err := s.client.Append(ctx, stream, map[string]string{
			"id":    messageID,
			"value": string(encoded),
		}); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return
		}

		if window, tracked := s.plan.HistoryWindow[field]; tracked {
			if err := s.client.ListPush(ctx, "hist:"+sourceID+":"+field, string(encoded), int64(window)); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
	})
	if firstErr != nil {
		return firstErr
	}

	_, err = s.client.Append(ctx, model.IdentityStream(s.plan.Report.Name), map[string]string{
		"id":        messageID,
		"source_id": sourceID,
		"seq":       strconv.FormatUint(seq, 10),
	})
	return err
}

// assignMessageID keeps message-id assignment idempotent under redelivery: a
// durable marker keyed by the input entry id is checked before the
// per-source counter is incremented, so redelivery of the same entry (crash
// between ack and commit) never double-counts and always yields the same
// message-id.
func (s *Splitter) assignMessageID(ctx context.Context, entryID, sourceID string) (string, uint64, error) {
	markerKey := "seen:" + s.plan.Report.Name + ":" + entryID

	if existing, ok, err := s.client.KVGet(ctx, markerKey); err != nil {
		return "", 0, err
	} else if ok {
		parsed, err := ids.Parse(existing, s.sep)
		if err != nil {
			return "", 0, err
		}
		return existing, parsed.Seq, nil
	}

	counterKey := "counter:" + sourceID + ":" + s.plan.Report.Name
	seq, err := s.client.Incr(ctx, counterKey, 1)
	if err != nil {
		return "", 0, err
	}

	messageID := ids.Format(sourceID, s.sep, uint64(seq))
	if err := s.client.KVSet(ctx, markerKey, messageID); err != nil {
		return "", 0, err
	}
	return messageID, uint64(seq), nil
}

func (s *Splitter) decode(entry broker.Entry) (map[string]interface{}, error) {
	raw, ok := entry.Fields["payload"]
	if !ok {
		return nil, errors.InvalidArgument("entry missing payload field", nil)
	}
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, errors.InvalidArgument("malformed JSON payload", err)
	}
	return record, nil
}

func (s *Splitter) deadLetter(ctx context.Context, entryID string, cause error) error {
	_, err := s.client.Append(ctx, model.DLQStream(s.plan.Report.Name), map[string]string{
		"entry": entryID,
		"error": cause.Error(),
	})
	if err != nil {
		return err
	}
	return s.client.Ack(ctx, s.plan.Report.Name, s.group, entryID)
}
