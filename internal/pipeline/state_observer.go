package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/trobanga/oaiharvest/internal/harvester"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

// JobStateObserver keeps a job's state file in step with its harvests, so
// an interrupted job can be inspected and resumed.
type JobStateObserver struct {
	mu      sync.Mutex
	jobsDir string
	state   models.HarvestJobState
	stats   func() Stats
	base    Stats
	logger  *lib.Logger
	clock   func() time.Time
}

// NewJobStateObserver creates an observer persisting state under jobsDir
func NewJobStateObserver(jobsDir string, state *models.HarvestJobState, logger *lib.Logger) *JobStateObserver {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &JobStateObserver{
		jobsDir: jobsDir,
		state:   *state,
		base: Stats{
			RecordsWritten:  state.RecordsWritten,
			RecordsRejected: state.RecordsRejected,
			BatchesFlushed:  state.BatchesWritten,
			FailedFlushes:   state.FailedBatches,
		},
		logger:  logger.Named("state"),
		clock:   time.Now,
	}
}

// AttachStats makes every save include the job's sink counters, added to
// the counters the state already carried (from earlier runs of the job)
func (o *JobStateObserver) AttachStats(stats func() Stats) {
	o.mu.Lock()
	o.stats = stats
	o.mu.Unlock()
}

// ForRun returns the observer of the run with the given index
func (o *JobStateObserver) ForRun(index int) harvester.Observer {
	return harvester.ObserverFunc(func(n models.Notification) error {
		return o.update(index, n)
	})
}

func (o *JobStateObserver) update(index int, n models.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, ok := models.GetRunByIndex(o.state, index)
	if !ok {
		return lib.ErrCorruptedJobState(o.state.JobID, fmt.Errorf("no harvest with index %d", index))
	}

	now := o.clock()
	switch n.Type {
	case models.HarvestStarted:
		run = models.StartRun(run, now)
	case models.ResponseReceived:
		// Counters only; persisted with the following ResponseProcessed.
		run = models.UpdateRunProgress(run, n)
		o.state = models.ReplaceRun(o.state, run)
		return nil
	case models.ResponseProcessed:
		run = models.UpdateRunProgress(run, n)
	case models.HarvestEnded:
		run = models.UpdateRunProgress(run, n)
		errMsg := ""
		if n.Err != nil {
			errMsg = n.Err.Error()
		}
		run = models.EndRun(run, models.RunStatusFor(n.State, n.Err), errMsg, now)
	}

	o.state = models.ReplaceRun(o.state, run)
	return o.saveLocked()
}

// Finish derives the job status from its runs and saves the final state
func (o *JobStateObserver) Finish() (*models.HarvestJobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := models.DeriveJobStatus(o.state)
	o.state = models.UpdateJobStatus(o.state, status)
	if status == models.JobStatusFailed && o.state.ErrorMessage == "" {
		for _, run := range o.state.Harvests {
			if run.Status == models.RunStatusFailed {
				o.state.ErrorMessage = run.Error
				break
			}
		}
	}

	if err := o.saveLocked(); err != nil {
		return nil, err
	}
	state := o.state
	return &state, nil
}

// State returns a copy of the current job state
func (o *JobStateObserver) State() models.HarvestJobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *JobStateObserver) saveLocked() error {
	if o.stats != nil {
		s := o.stats()
		o.state = models.UpdateJobMetrics(o.state,
			o.base.RecordsWritten+s.RecordsWritten,
			o.base.RecordsRejected+s.RecordsRejected,
			o.base.BatchesFlushed+s.BatchesFlushed,
			o.base.FailedFlushes+s.FailedFlushes)
	}
	if err := services.SaveJobState(o.jobsDir, &o.state); err != nil {
		o.logger.Error("Failed to save job state", lib.FieldJobID, o.state.JobID, lib.FieldError, err)
		return err
	}
	return nil
}
