package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Class categorizes a pipeline error and decides its handling policy:
// transient and data errors park the affected episode/digest as failed,
// config errors abort the whole batch run with a non-zero exit.
type Class string

const (
	// ClassTransient covers network failures and timeouts. Eligible for
	// automatic retry on the next phase pass.
	ClassTransient Class = "transient"

	// ClassData covers malformed feed entries, unsupported audio, empty
	// transcripts. Recorded as a failure reason; will not self-heal without
	// an upstream data change.
	ClassData Class = "data"

	// ClassConfig covers missing credentials or dependencies. The whole run
	// is invalid, not one bad row.
	ClassConfig Class = "config"
)

// Code is a short machine-readable reason, surfaced in failure_reason
type Code string

const (
	CodeTimeout          Code = "timeout"
	CodeNetwork          Code = "network"
	CodeHTTPStatus       Code = "http_status"
	CodeUnsupportedAudio Code = "unsupported_audio"
	CodeEmptyAudio       Code = "empty_audio"
	CodeTruncatedAudio   Code = "truncated_audio"
	CodeEmptyTranscript  Code = "empty_transcript"
	CodeMalformedEntry   Code = "malformed_entry"
	CodeBackendResponse  Code = "backend_response"
	CodeChunkFailed      Code = "chunk_failed"
	CodeMissingConfig    Code = "missing_config"
	CodeMissingBinary    Code = "missing_binary"
)

// PipelineError is a classified error produced inside a phase
type PipelineError struct {
	Class   Class
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Reason returns the string stored in an episode's failure_reason column
func (e *PipelineError) Reason() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// Transient creates a transient pipeline error
func Transient(code Code, message string, cause error) *PipelineError {
	return &PipelineError{Class: ClassTransient, Code: code, Message: message, Cause: cause}
}

// Data creates a data pipeline error
func Data(code Code, message string, cause error) *PipelineError {
	return &PipelineError{Class: ClassData, Code: code, Message: message, Cause: cause}
}

// Config creates a configuration pipeline error
func Config(code Code, message string, cause error) *PipelineError {
	return &PipelineError{Class: ClassConfig, Code: code, Message: message, Cause: cause}
}

// Timeoutf creates a transient timeout error with a formatted message
func Timeoutf(format string, args ...interface{}) *PipelineError {
	return Transient(CodeTimeout, fmt.Sprintf(format, args...), nil)
}

// ClassOf reports the class of err. Unclassified errors default to
// transient so a bug in classification parks work instead of aborting runs.
func ClassOf(err error) Class {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ClassTransient
}

// IsConfig reports whether err must abort the whole batch run
func IsConfig(err error) bool {
	return ClassOf(err) == ClassConfig
}

// ReasonOf returns the failure_reason string for err
func ReasonOf(err error) string {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Reason()
	}
	return err.Error()
}

// FromHTTPStatus maps a backend HTTP status onto the taxonomy: auth problems
// invalidate the run, rate limits and server errors are retryable, other
// client errors mean the submitted data is bad.
func FromHTTPStatus(status int, message string) *PipelineError {
	switch {
	case status == 401 || status == 403:
		return Config(CodeMissingConfig, message, nil)
	case status == 429 || status >= 500:
		return Transient(CodeHTTPStatus, message, nil)
	default:
		return Data(CodeBackendResponse, message, nil)
	}
}

// Classify converts an arbitrary error from an external call into a
// PipelineError, mapping context deadline and network errors to transient
// timeouts so an episode is parked with reason "timeout", never hung.
func Classify(err error, fallback Class) *PipelineError {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return Transient(CodeTimeout, "operation timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Transient(CodeTimeout, "operation timed out", err)
		}
		return Transient(CodeNetwork, "network error", err)
	}
	return &PipelineError{Class: fallback, Code: CodeBackendResponse, Message: err.Error(), Cause: err}
}
