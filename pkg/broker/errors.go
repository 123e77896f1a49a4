package broker

import "github.com/pybrook/pybrook/pkg/errors"

const (
	CodeConnectionFailed errors.Code = "BROKER_CONNECTION_FAILED"
	CodeGroupExists       errors.Code = "BROKER_GROUP_EXISTS"
	CodeStreamNotFound    errors.Code = "BROKER_STREAM_NOT_FOUND"
	CodeEntryNotFound     errors.Code = "BROKER_ENTRY_NOT_FOUND"
)

func ErrConnectionFailed(cause error) error {
	return errors.New(CodeConnectionFailed, "failed to connect to broker", cause)
}

func ErrAppendFailed(stream string, cause error) error {
	return errors.Newf(errors.CodeUnavailable, cause, "failed to append to stream %q", stream)
}

func ErrReadFailed(cause error) error {
	return errors.New(errors.CodeUnavailable, "failed to read from broker", cause)
}

func ErrAckFailed(stream, id string, cause error) error {
	return errors.Newf(errors.CodeUnavailable, cause, "failed to ack entry %q on stream %q", id, stream)
}
