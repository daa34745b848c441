package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

// CreateJob initializes a new harvest job with one pending run per
// parameter set and saves it
func CreateJob(params []models.HarvestParams, config models.ProjectConfig) (*models.HarvestJobState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("nothing to harvest: no repositories given")
	}

	now := time.Now()
	job := &models.HarvestJobState{
		JobID:     uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.JobStatusPending,
		Harvests:  models.InitializeRuns(params),
		Config:    config,
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create valid job: %w", err)
	}

	if err := services.SaveJobState(config.JobsDir, job); err != nil {
		return nil, fmt.Errorf("failed to save initial job state: %w", err)
	}

	return job, nil
}

// LoadJob loads an existing job from disk
func LoadJob(jobsDir string, jobID string) (*models.HarvestJobState, error) {
	return services.LoadJobState(jobsDir, jobID)
}

// UpdateJob updates job state on disk
func UpdateJob(jobsDir string, job *models.HarvestJobState) error {
	job.UpdatedAt = time.Now()
	return services.SaveJobState(jobsDir, job)
}

// StartJob transitions job to in_progress status
func StartJob(job *models.HarvestJobState) (*models.HarvestJobState, error) {
	if !job.Status.CanTransitionTo(models.JobStatusInProgress) {
		return nil, fmt.Errorf("cannot start job in status %s", job.Status)
	}
	updatedJob := models.UpdateJobStatus(*job, models.JobStatusInProgress)
	updatedJob.ErrorMessage = ""
	return &updatedJob, nil
}

// CompleteJob marks job as completed
func CompleteJob(job *models.HarvestJobState) *models.HarvestJobState {
	updatedJob := models.UpdateJobStatus(*job, models.JobStatusCompleted)
	return &updatedJob
}

// FailJob marks job as failed with error message
func FailJob(job *models.HarvestJobState, errorMsg string) *models.HarvestJobState {
	updatedJob := models.AddError(*job, errorMsg)
	return &updatedJob
}

// ResumePlan pairs the runs of a job that still have work with the
// parameters that continue them
type ResumePlan struct {
	Indexes []int
	Params  []models.HarvestParams
}

// PlanResume builds the parameters that continue every unfinished run of a
// job. A run with a saved resumption token continues from it; any other
// run starts over from its original parameters.
func PlanResume(job *models.HarvestJobState) (ResumePlan, error) {
	var plan ResumePlan
	for _, run := range models.ResumableRuns(*job) {
		args := run.Params
		if len(run.RetryParams) > 0 {
			args = run.RetryParams
		}
		params, err := models.NewHarvestParams(run.BaseURL, run.Verb, args)
		if err != nil {
			return ResumePlan{}, fmt.Errorf("harvest %d: %w", run.Index, err)
		}
		plan.Indexes = append(plan.Indexes, run.Index)
		plan.Params = append(plan.Params, params)
	}
	return plan, nil
}

// IsJobComplete checks if all runs reached the end of their lists
func IsJobComplete(job *models.HarvestJobState) bool {
	return models.IsJobComplete(*job)
}

// GetJobSummary returns a human-readable summary of the job
func GetJobSummary(job *models.HarvestJobState) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Job %s\n", job.JobID))
	sb.WriteString(fmt.Sprintf("Status: %s\n", job.Status))
	sb.WriteString(fmt.Sprintf("Harvests: %d\n", len(job.Harvests)))
	sb.WriteString(fmt.Sprintf("Records written: %d (rejected %d)\n", job.RecordsWritten, job.RecordsRejected))
	sb.WriteString(fmt.Sprintf("Duration: %v\n", job.UpdatedAt.Sub(job.CreatedAt).Round(time.Second)))

	if job.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", job.ErrorMessage))
	}

	return sb.String()
}
