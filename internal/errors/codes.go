package errors

import (
	"fmt"
)

// ErrorCode classifies failures across the chat pipeline. The code decides
// whether a failure is absorbed locally or surfaced in the conversation log.
type ErrorCode string

const (
	// ErrCodeValidation indicates rejected input or a malformed stored turn.
	// Recovered locally, never user-visible.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeTransport indicates a network failure or non-2xx response.
	// Surfaced as a visible error turn.
	ErrCodeTransport ErrorCode = "TRANSPORT"
	// ErrCodeStreamInterrupted indicates the model stream terminated early
	// with an error marker.
	ErrCodeStreamInterrupted ErrorCode = "STREAM_INTERRUPTED"
	// ErrCodeSummarization indicates a failed summarizer call. Absorbed;
	// the prior summary is retained.
	ErrCodeSummarization ErrorCode = "SUMMARIZATION"
	// ErrCodeAuth indicates the auth collaborator rejected the call.
	// Fatal for the current operation, never retried.
	ErrCodeAuth ErrorCode = "AUTH"
	// ErrCodeNotFound indicates a missing conversation or record.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimitExceeded indicates the per-user chat rate limit.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// ChatError is a structured error carrying a taxonomy code.
type ChatError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// Validation creates a validation error.
func Validation(msg string) *ChatError {
	return &ChatError{Code: ErrCodeValidation, Message: msg}
}

// Transport creates a transport error.
func Transport(msg string, cause error) *ChatError {
	return &ChatError{Code: ErrCodeTransport, Message: msg, Cause: cause}
}

// StreamInterrupted creates a stream interruption error.
func StreamInterrupted(msg string) *ChatError {
	return &ChatError{Code: ErrCodeStreamInterrupted, Message: msg}
}

// Summarization creates a summarization failure error.
func Summarization(msg string, cause error) *ChatError {
	return &ChatError{Code: ErrCodeSummarization, Message: msg, Cause: cause}
}

// Auth creates an authorization failure error.
func Auth(msg string) *ChatError {
	return &ChatError{Code: ErrCodeAuth, Message: msg}
}

// NotFound creates a not-found error.
func NotFound(msg string) *ChatError {
	return &ChatError{Code: ErrCodeNotFound, Message: msg}
}

// RateLimitExceeded creates a rate limit error.
func RateLimitExceeded(msg string) *ChatError {
	return &ChatError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// Wrap wraps an existing error with a taxonomy code.
func Wrap(cause error, code ErrorCode, msg string) *ChatError {
	return &ChatError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error carries a specific code, unwrapping as needed.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if chatErr, ok := err.(*ChatError); ok {
			return chatErr.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf extracts the error code from any error, returning the provided
// default when the error is not a ChatError.
func CodeOf(err error, defaultCode ErrorCode) ErrorCode {
	for err != nil {
		if chatErr, ok := err.(*ChatError); ok {
			return chatErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return defaultCode
}
