// Package ids formats and parses the message identifiers that thread a
// record through every sub-stream it touches: <source-id><sep><seq>.
package ids

import (
	"strconv"
	"strings"

	"github.com/pybrook/pybrook/pkg/errors"
)

// DefaultSeparator is used when a model does not declare one explicitly.
// It must never appear inside a source id.
const DefaultSeparator = ":"

// MessageID identifies a single record from a single source, totally
// ordered within that source via Seq.
type MessageID struct {
	SourceID string
	Seq      uint64
}

// Format renders a message id as "<source-id><sep><seq>".
func Format(sourceID, sep string, seq uint64) string {
	return sourceID + sep + strconv.FormatUint(seq, 10)
}

// String renders id using sep.
func (id MessageID) String(sep string) string {
	return Format(id.SourceID, sep, id.Seq)
}

// Parse splits a formatted message id back into its source id and sequence
// number. It fails if sep does not occur, occurs more than once, or is
// followed by something other than an unsigned integer.
func Parse(raw, sep string) (MessageID, error) {
	idx := strings.LastIndex(raw, sep)
	if idx < 0 {
		return MessageID{}, errors.InvalidArgument("message id missing separator", nil)
	}
	sourceID := raw[:idx]
	seqPart := raw[idx+len(sep):]
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return MessageID{}, errors.InvalidArgument("message id has non-numeric sequence", err)
	}
	if strings.Contains(sourceID, sep) {
		return MessageID{}, errors.InvalidArgument("source id contains the separator", nil)
	}
	return MessageID{SourceID: sourceID, Seq: seq}, nil
}

// ValidateSeparator enforces that the message-id separator is exactly one
// byte, so it can never appear inside a source id or field name and still
// be parsed back apart unambiguously.
func ValidateSeparator(sep string) error {
	if len(sep) != 1 {
		return errors.InvalidArgument("separator must be exactly one byte", nil)
	}
	return nil
}
