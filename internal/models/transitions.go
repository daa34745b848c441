package models

import "time"

// UpdateJobStatus creates a new HarvestJobState with updated status
// Pure function - returns new instance, does not mutate original
func UpdateJobStatus(job HarvestJobState, status JobStatus) HarvestJobState {
	job.Status = status
	job.UpdatedAt = time.Now()
	return job
}

// AddError creates a new HarvestJobState with error message
// Pure function - returns new instance
func AddError(job HarvestJobState, errorMsg string) HarvestJobState {
	job.ErrorMessage = errorMsg
	job.Status = JobStatusFailed
	job.UpdatedAt = time.Now()
	return job
}

// UpdateJobMetrics creates a new HarvestJobState with updated sink counters
// Pure function - returns new instance
func UpdateJobMetrics(job HarvestJobState, written, rejected, batches, failedBatches int64) HarvestJobState {
	job.RecordsWritten = written
	job.RecordsRejected = rejected
	job.BatchesWritten = batches
	job.FailedBatches = failedBatches
	job.UpdatedAt = time.Now()
	return job
}

// InitializeRuns creates the pending run list for a set of parameter sets
// Pure function - creates new run instances
func InitializeRuns(params []HarvestParams) []HarvestRunState {
	runs := make([]HarvestRunState, len(params))
	for i, p := range params {
		runs[i] = HarvestRunState{
			Index:   i,
			BaseURL: p.BaseURL(),
			Verb:    p.Verb(),
			Params:  p.Parameters(),
			Status:  RunStatusPending,
		}
	}
	return runs
}

// StartRun creates a new HarvestRunState with running status
// Pure function - returns new instance
func StartRun(run HarvestRunState, at time.Time) HarvestRunState {
	run.Status = RunStatusRunning
	run.StartedAt = &at
	run.EndedAt = nil
	run.Error = ""
	return run
}

// UpdateRunProgress copies counters and pagination state from a notification
// Pure function - returns new instance
func UpdateRunProgress(run HarvestRunState, n Notification) HarvestRunState {
	run.RequestCount = n.RequestCount()
	run.ResponseCount = n.ResponseCount()
	if n.Token != nil {
		token := *n.Token
		run.ResumptionToken = &token
	}
	if n.LastResponseTime != nil {
		t := *n.LastResponseTime
		run.LastResponseTime = &t
	}
	if !n.Params.IsZero() {
		run.RetryParams = n.Params.RetryParams(n.Token).Parameters()
	}
	return run
}

// EndRun creates a new HarvestRunState in a terminal status
// Pure function - returns new instance
func EndRun(run HarvestRunState, status RunStatus, errMsg string, at time.Time) HarvestRunState {
	run.Status = status
	run.Error = errMsg
	run.EndedAt = &at
	return run
}

// RunStatusFor maps the final flags of a harvest onto a run status
func RunStatusFor(state HarvestState, err error) RunStatus {
	switch {
	case err != nil:
		return RunStatusFailed
	case state.Interrupted:
		return RunStatusInterrupted
	case state.ExplicitlyStopped:
		return RunStatusStopped
	default:
		return RunStatusCompleted
	}
}

// ReplaceRun replaces a run in the job's run list by index
// Pure function - returns new job instance with updated runs
func ReplaceRun(job HarvestJobState, updated HarvestRunState) HarvestJobState {
	runs := make([]HarvestRunState, len(job.Harvests))
	copy(runs, job.Harvests)

	for i, run := range runs {
		if run.Index == updated.Index {
			runs[i] = updated
			break
		}
	}

	job.Harvests = runs
	job.UpdatedAt = time.Now()
	return job
}

// GetRunByIndex finds a run by index
// Pure function - returns copy of run if found
func GetRunByIndex(job HarvestJobState, index int) (HarvestRunState, bool) {
	for _, run := range job.Harvests {
		if run.Index == index {
			return run, true
		}
	}
	return HarvestRunState{}, false
}

// IsJobComplete checks if all runs reached the end of their lists
// Pure function - no mutations
func IsJobComplete(job HarvestJobState) bool {
	if len(job.Harvests) == 0 {
		return false
	}
	for _, run := range job.Harvests {
		if run.Status != RunStatusCompleted {
			return false
		}
	}
	return true
}

// DeriveJobStatus summarizes the run outcomes into a job status
// Pure function - no mutations
func DeriveJobStatus(job HarvestJobState) JobStatus {
	if IsJobComplete(job) {
		return JobStatusCompleted
	}
	for _, run := range job.Harvests {
		if run.Status == RunStatusFailed {
			return JobStatusFailed
		}
	}
	return JobStatusStopped
}

// ResumableRuns returns the runs a resume should restart
// Pure function - returns copies
func ResumableRuns(job HarvestJobState) []HarvestRunState {
	var runs []HarvestRunState
	for _, run := range job.Harvests {
		if run.Status.IsResumable() {
			runs = append(runs, run)
		}
	}
	return runs
}
