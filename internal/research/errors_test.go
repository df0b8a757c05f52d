package research

import (
	"errors"
	"fmt"
	"testing"
)

func TestToolErrorRetryable(t *testing.T) {
	cases := []struct {
		kind ToolErrorKind
		want bool
	}{
		{ToolErrorUnavailable, true},
		{ToolErrorRateLimited, true},
		{ToolErrorBadResponse, false},
	}
	for _, tc := range cases {
		err := NewToolError("search", tc.kind, errors.New("boom"))
		if err.Retryable() != tc.want {
			t.Errorf("%s: want retryable=%v", tc.kind, tc.want)
		}
	}
}

func TestErrorKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("wrapped: %w", ErrInvalidInput), "invalid_input"},
		{fmt.Errorf("%w: search gave up", ErrResearchFailed), "research_failed"},
		{fmt.Errorf("%w: empty report", ErrWriteFailed), "write_failed"},
		{fmt.Errorf("%w: down", ErrIndexUnavailable), "index_unavailable"},
		{ErrTimeout, "timeout"},
		{ErrCancelled, "cancelled"},
		{errors.New("mystery"), "internal"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.kind {
			t.Errorf("ErrorKind(%v): want %s, got %s", tc.err, tc.kind, got)
		}
	}
}

func TestStageErrorUnwraps(t *testing.T) {
	err := &StageError{Stage: "researching", Err: fmt.Errorf("%w: no sources", ErrResearchFailed)}
	if !errors.Is(err, ErrResearchFailed) {
		t.Fatal("StageError must unwrap to its cause")
	}
	if err.Kind() != "research_failed" {
		t.Fatalf("unexpected kind: %s", err.Kind())
	}
}

func TestSummaryAlwaysNonEmpty(t *testing.T) {
	kinds := []string{"invalid_input", "timeout", "research_failed", "write_failed", "embedding", "index_unavailable", "generation", "cancelled", "anything_else"}
	for _, kind := range kinds {
		if Summary(kind) == "" {
			t.Errorf("Summary(%q) is empty", kind)
		}
	}
}
