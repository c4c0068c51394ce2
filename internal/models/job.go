package models

import "time"

// JobStatus is a background job's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is a background maintenance task.
type Job struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Status     JobStatus              `json:"status"`
	Progress   int                    `json:"progress"`
	Message    string                 `json:"message,omitempty"`
	Params     map[string]string      `json:"params,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}
