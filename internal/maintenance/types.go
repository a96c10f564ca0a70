package maintenance

import (
	"context"
	"time"
)

// Task represents a maintenance task that can be scheduled and executed
type Task interface {
	// Name returns the name of the maintenance task
	Name() string

	// Description returns a human-readable description of what the task does
	Description() string

	// Execute runs the maintenance task
	Execute(ctx context.Context) TaskResult
}

// TaskResult represents the result of executing a maintenance task
type TaskResult struct {
	Success        bool           `json:"success"`
	Duration       time.Duration  `json:"duration"`
	Message        string         `json:"message"`
	Findings       map[string]int `json:"findings,omitempty"`
	SpaceReclaimed int64          `json:"space_reclaimed,omitempty"`
	Error          error          `json:"-"`
}

// Total returns the number of findings of all kinds.
func (r TaskResult) Total() int {
	n := 0
	for _, c := range r.Findings {
		n += c
	}
	return n
}

// TaskStatus represents the status of a maintenance task
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LastRun     time.Time  `json:"last_run"`
	NextRun     time.Time  `json:"next_run"`
	LastResult  TaskResult `json:"last_result"`
	Schedule    string     `json:"schedule"`
}

// Reporter receives audit findings, typically a metrics sink.
type Reporter interface {
	AddAuditFindings(kind string, n int)
}

// Config represents maintenance configuration
type Config struct {
	Enabled  bool
	Schedule string // standard 5-field cron expression
}
