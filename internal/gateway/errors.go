package gateway

import (
	"errors"
	"fmt"
)

// TransportError wraps a network-level or provider-side (5xx) failure. It is
// the only error class the gateway retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the provider replied, but the reply did not match the
// expected structured shape. Mandatory stages treat it as fatal after their
// reformat budget; optional stages treat the output as absent.
type ParseError struct {
	// RawText is the model output that failed to parse, kept for logging
	// and stage-level reformat retries.
	RawText string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means a stage received malformed input (e.g. an empty
// transcript). Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// ConsistencyError means a provider reply was well-formed but referenced
// unknown keys or omitted required ones. It must be rejected and retried at
// the stage level, never silently merged.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string {
	return "consistency error: " + e.Msg
}

// IsTransport reports whether err is (or wraps) a [TransportError].
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsParse reports whether err is (or wraps) a [ParseError].
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is (or wraps) a [ValidationError].
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConsistency reports whether err is (or wraps) a [ConsistencyError].
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
