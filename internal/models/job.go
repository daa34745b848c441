package models

import "time"

// HarvestJobState is the on-disk record of one harvest job and its runs
type HarvestJobState struct {
	JobID           string            `json:"job_id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Status          JobStatus         `json:"status"`
	Harvests        []HarvestRunState `json:"harvests"`
	Config          ProjectConfig     `json:"config"`            // Configuration snapshot
	RecordsWritten  int64             `json:"records_written"`   // Records accepted by the sink
	RecordsRejected int64             `json:"records_rejected"`  // Records the sink refused
	BatchesWritten  int64             `json:"batches_written"`   // Successful batch flushes
	FailedBatches   int64             `json:"failed_batches"`    // Flushes that failed as a whole
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// HarvestRunState records one parameter set's harvest within a job
type HarvestRunState struct {
	Index            int               `json:"index"`
	BaseURL          string            `json:"base_url"`
	Verb             Verb              `json:"verb"`
	Params           map[string]string `json:"params"`
	Status           RunStatus         `json:"status"`
	RequestCount     int64             `json:"request_count"`
	ResponseCount    int64             `json:"response_count"`
	RetryParams      map[string]string `json:"retry_params,omitempty"`
	ResumptionToken  *ResumptionToken  `json:"resumption_token,omitempty"`
	LastResponseTime *time.Time        `json:"last_response_time,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// JobStatus defines the execution state of a harvest job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusStopped    JobStatus = "stopped"
)

// RunStatus defines the outcome of a single harvest run
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusStopped     RunStatus = "stopped"
	RunStatusInterrupted RunStatus = "interrupted"
)

// ErrorType classifies errors for retry strategy
type ErrorType string

const (
	ErrorTypeTransient    ErrorType = "transient"     // Network, 5xx, timeout - automatic retry
	ErrorTypeNonTransient ErrorType = "non_transient" // 4xx, malformed - manual intervention
)

// IsValidJobStatus checks if the job status is recognized
func IsValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// IsValidRunStatus checks if the run status is recognized
func IsValidRunStatus(s RunStatus) bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusStopped, RunStatusInterrupted:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if state transition is valid
// Valid transitions:
//
//	pending -> in_progress
//	in_progress -> completed | failed | stopped
//	failed | stopped -> in_progress (resume)
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusInProgress
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusStopped
	case JobStatusFailed, JobStatusStopped:
		return next == JobStatusInProgress
	default:
		return false
	}
}

// CanTransitionTo checks if run status transition is valid
// Valid transitions:
//
//	pending -> running
//	running -> completed | failed | stopped | interrupted
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed ||
			next == RunStatusStopped || next == RunStatusInterrupted
	default:
		return false
	}
}

// IsResumable reports whether a run ended short of the end of its list
func (s RunStatus) IsResumable() bool {
	switch s {
	case RunStatusFailed, RunStatusStopped, RunStatusInterrupted, RunStatusPending, RunStatusRunning:
		return true
	default:
		return false
	}
}

// IsTransientHTTPStatus classifies HTTP status codes for retry logic
func IsTransientHTTPStatus(status int) bool {
	if status >= 500 && status < 600 {
		return true
	}
	// 408 Request Timeout, 429 Too Many Requests are transient
	if status == 408 || status == 429 {
		return true
	}
	return false
}
