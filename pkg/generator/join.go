// Package generator implements the field generator (C3): one instance per
// artificial field, joining its current dependencies by message-id,
// reading history windows, invoking the user function, and publishing the
// result. The join.go state machine here is reused as is by pkg/resolver,
// which runs the same join discipline as C3 but terminally.
package generator

import (
	"encoding/json"

	"github.com/pybrook/pybrook/pkg/errors"
)

// JoinState is the per-message-id join state machine:
// EMPTY -> PARTIAL -> READY -> EMITTED.
type JoinState string

const (
	StateEmpty   JoinState = "EMPTY"
	StatePartial JoinState = "PARTIAL"
	StateReady   JoinState = "READY"
	StateEmitted JoinState = "EMITTED"
)

// PendingEntry is the durable partial-join state persisted under
// pending:<consumer>:<message-id>, reconstructable from KV after a crash.
type PendingEntry struct {
	SourceID string                 `json:"source_id"`
	Have     map[string]bool        `json:"have"`
	Values   map[string]interface{} `json:"values"`
}

// NewPendingEntry starts an EMPTY join for sourceID.
func NewPendingEntry(sourceID string) *PendingEntry {
	return &PendingEntry{
		SourceID: sourceID,
		Have:     make(map[string]bool),
		Values:   make(map[string]interface{}),
	}
}

// Apply records that field arrived with value, mutating the entry in place.
func (p *PendingEntry) Apply(field string, value interface{}) {
	if p.Have == nil {
		p.Have = make(map[string]bool)
	}
	if p.Values == nil {
		p.Values = make(map[string]interface{})
	}
	p.Have[field] = true
	p.Values[field] = value
}

// Ready reports whether every field in required has arrived.
func (p *PendingEntry) Ready(required []string) bool {
	for _, f := range required {
		if !p.Have[f] {
			return false
		}
	}
	return true
}

// Marshal serializes the entry for KV persistence.
func (p *PendingEntry) Marshal() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal pending entry")
	}
	return string(data), nil
}

// UnmarshalPendingEntry reconstructs an entry persisted by Marshal.
func UnmarshalPendingEntry(data string) (*PendingEntry, error) {
	var p PendingEntry
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal pending entry")
	}
	if p.Have == nil {
		p.Have = make(map[string]bool)
	}
	if p.Values == nil {
		p.Values = make(map[string]interface{})
	}
	return &p, nil
}
