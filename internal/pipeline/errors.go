package pipeline

import "fmt"

// ErrorKind classifies fatal pipeline failures. Soft failures (reranking)
// never produce an Error; they are recorded in state metadata instead.
type ErrorKind string

const (
	ErrorKindInput            ErrorKind = "input_error"
	ErrorKindIndexUnavailable ErrorKind = "index_unavailable"
	ErrorKindGeneration       ErrorKind = "generation_error"
	ErrorKindFormat           ErrorKind = "format_error"
)

// Generation error details.
const (
	DetailRateLimited = "rate_limited"
	DetailTimeout     = "timeout"
	DetailMalformed   = "malformed"
)

// Error is the typed failure stored in a failed pipeline state.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Detail, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, detail, message string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Message: message, cause: cause}
}
