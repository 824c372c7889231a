package domain

import "time"

type JobType string

const (
	JobTypeEstimateGeneration JobType = "estimate_generation"
	JobTypeVideoProcess       JobType = "video_process"
)

type JobStatus string

const (
	JobStatusNotStarted JobStatus = "not_started"
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is sticky: once reached, polls
// return the stored state and never query the external system again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one asynchronous unit of external compute work. At most one
// non-terminal job exists per (project, type); starting a new one
// explicitly supersedes the old.
type Job struct {
	ID               string
	ProjectID        string
	Type             JobType
	ExternalThreadID string
	ExternalRunID    string
	Status           JobStatus
	ErrorMessage     string

	// OriginatingChatThreadID is set only when a chat request triggered
	// the job; the outcome event is routed back into that thread.
	OriginatingChatThreadID string

	// AssociatedFileID is set for video jobs: the source video file.
	AssociatedFileID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PollMessage is the transport format handed to the background poller
// when a job starts.
type PollMessage struct {
	JobID       string    `json:"job_id"`
	ProjectID   string    `json:"project_id"`
	JobType     JobType   `json:"job_type"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
