package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSkipped is returned by a handler to mark the job skipped rather than
// failed, e.g. when the account was already being synced.
var ErrSkipped = errors.New("job skipped")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAccountSync represents one account synchronization job.
	JobTypeAccountSync JobType = "account_sync"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusSkipped indicates the job was dropped because the account
	// was already being synced when the worker picked it up.
	JobStatusSkipped JobStatus = "skipped"
)

// AccountSyncJob represents a job to sync one account's transactions.
// Retries are not handled here: a failed sync is retried by the next
// scheduler tick, which re-enumerates active accounts.
type AccountSyncJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// AccountID is the account to sync.
	AccountID uuid.UUID `json:"account_id"`

	// Trigger records what dispatched the job ("schedule" or "manual").
	Trigger string `json:"trigger"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *AccountSyncJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *AccountSyncJob) GetType() JobType {
	return JobTypeAccountSync
}

// GetStatus implements the Job interface.
func (j *AccountSyncJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishAccountSync publishes an account sync job.
	PublishAccountSync(ctx context.Context, job *AccountSyncJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
// This allows tracking job execution across service restarts.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AccountSyncJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AccountSyncJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AccountSyncJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// AccountID filters jobs by account.
	AccountID uuid.UUID

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int
}
