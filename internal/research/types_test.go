package research

import "testing"

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRetrieving, true},
		{JobStatusRetrieving, JobStatusResearching, true},
		{JobStatusResearching, JobStatusWriting, true},
		{JobStatusWriting, JobStatusCompleted, true},
		{JobStatusPending, JobStatusWriting, false},
		{JobStatusRetrieving, JobStatusCompleted, false},
		{JobStatusResearching, JobStatusFailed, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusCompleted, JobStatusCancelled, false},
		{JobStatusFailed, JobStatusRetrieving, false},
		{JobStatusCancelled, JobStatusFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: want %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusRetrieving, JobStatusResearching, JobStatusWriting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
