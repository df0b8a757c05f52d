package research

import (
	"time"
)

// JobStatus tracks where a research job sits in its pipeline.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusRetrieving  JobStatus = "retrieving"
	JobStatusResearching JobStatus = "researching"
	JobStatusWriting     JobStatus = "writing"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// jobTransitions encodes the allowed forward edges of the job state machine.
// Failed and Cancelled are reachable from any non-terminal state and are not
// listed here.
var jobTransitions = map[JobStatus]JobStatus{
	JobStatusPending:     JobStatusRetrieving,
	JobStatusRetrieving:  JobStatusResearching,
	JobStatusResearching: JobStatusWriting,
	JobStatusWriting:     JobStatusCompleted,
}

// CanTransition reports whether moving from s to next is a legal step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed || next == JobStatusCancelled {
		return true
	}
	return jobTransitions[s] == next
}

// Job is one end-to-end research request and its lifecycle. Owned by the job
// controller; mutated only through status transitions and immutable once
// terminal.
type Job struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Status       JobStatus `json:"status"`
	ContextIDs   []string  `json:"context_ids,omitempty"`
	Findings     string    `json:"findings,omitempty"`
	Report       string    `json:"report,omitempty"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AgentRole identifies a member of the research crew.
type AgentRole string

const (
	RoleResearcher AgentRole = "researcher"
	RoleWriter     AgentRole = "writer"
)

// TaskStatus tracks a single agent task within one pipeline run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// AgentTask is created by the crew coordinator for the lifetime of one
// pipeline run; its output is copied into the Job and the task discarded.
type AgentTask struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	Role        AgentRole  `json:"role"`
	Input       string     `json:"input"`
	Output      string     `json:"output,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// Source is one piece of gathered evidence for a job.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Text    string `json:"text,omitempty"`
}

// VectorRecord is one embedded chunk of text with metadata, stored for
// similarity search. Immutable after creation; upserts by id replace.
type VectorRecord struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Vector     []float32 `json:"vector"`
	Text       string    `json:"text"`
	Topic      string    `json:"topic"`
	JobID      string    `json:"job_id"`
	ChunkIndex int       `json:"chunk_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// VectorHit is a similarity-search match. Similarity is 1 - cosine distance,
// so higher is closer.
type VectorHit struct {
	Record     VectorRecord `json:"record"`
	Similarity float64      `json:"similarity"`
}

// ContextRecord is one retrieved prior-knowledge chunk handed to the crew.
type ContextRecord struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	JobID      string    `json:"job_id"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
