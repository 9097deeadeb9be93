// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when a field needs more bytes than the input holds.
	ErrTruncated = errors.New("truncated input")
	// ErrUnknownTag is returned for a message tag outside the catalog.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrTagMismatch is returned when a message decodes with a different tag than expected.
	ErrTagMismatch = errors.New("message tag mismatch")
	// ErrTrailingBytes is returned when a message body is longer than its fields.
	ErrTrailingBytes = errors.New("trailing bytes after message")
	// ErrFrameTooLarge is returned for frames above MaxFrameSize. The connection cannot resync.
	ErrFrameTooLarge = errors.New("frame too large")
)

// SerializationError reports a message that could not be decoded.
// It is fatal for that message only; the frame it came in has been consumed.
type SerializationError struct {
	Tag   Tag
	Field string
	Err   error
}

func (e *SerializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("serialization error in %s: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("serialization error in %s.%s: %v", e.Tag, e.Field, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsSerializationError reports whether err is, or wraps, a SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
