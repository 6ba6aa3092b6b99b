package ingest

import (
	"errors"
	"fmt"
)

// DecodeError reports a malformed or unsupported wire payload. It is always
// correctable by the producer.
type DecodeError struct {
	Format Format
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("decode %s payload: %s", e.Format, e.Reason)
	}
	return fmt.Sprintf("decode %s payload: %s: %v", e.Format, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

func decodeError(format Format, reason string, err error) error {
	return &DecodeError{Format: format, Reason: reason, Err: err}
}
