package research

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline. Stage-level failures wrap one of these so
// callers can classify with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrResearchFailed   = errors.New("research failed")
	ErrWriteFailed      = errors.New("write failed")
	ErrGeneration       = errors.New("generation failed")
	ErrEmbedding        = errors.New("embedding failed")
	ErrIndexUnavailable = errors.New("vector index unavailable")
	ErrTimeout          = errors.New("stage timed out")
	ErrCancelled        = errors.New("job cancelled")
)

// ToolErrorKind classifies a tool adapter failure.
type ToolErrorKind string

const (
	ToolErrorUnavailable ToolErrorKind = "unavailable"
	ToolErrorRateLimited ToolErrorKind = "rate_limited"
	ToolErrorBadResponse ToolErrorKind = "bad_response"
)

// ToolError is a typed failure from a search or scrape adapter.
type ToolError struct {
	Op   string
	Kind ToolErrorKind
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient and worth another
// attempt.
func (e *ToolError) Retryable() bool {
	return e.Kind == ToolErrorUnavailable || e.Kind == ToolErrorRateLimited
}

// NewToolError wraps err as a typed tool failure.
func NewToolError(op string, kind ToolErrorKind, err error) *ToolError {
	return &ToolError{Op: op, Kind: kind, Err: err}
}

// StageError records which pipeline stage a job failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Kind returns the stable error-kind label persisted with a failed job.
func (e *StageError) Kind() string { return ErrorKind(e.Err) }

// ErrorKind maps an error to its stable kind label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrResearchFailed):
		return "research_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}

// Summary returns the human-readable message shown for a failed job.
func Summary(kind string) string {
	switch kind {
	case "invalid_input":
		return "The request was rejected. Check the topic and try again."
	case "timeout":
		return "The stage timed out. Try again or narrow the topic."
	case "research_failed":
		return "No sources were reachable. Please try again later."
	case "write_failed":
		return "Report generation failed. Please try again later."
	case "embedding", "index_unavailable":
		return "The knowledge index is unavailable. Please contact support."
	case "generation":
		return "The language model is currently unavailable. Please try again later."
	case "cancelled":
		return "The job was cancelled."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
