package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/pipeline"
	"github.com/trobanga/oaiharvest/internal/services"
)

// jobCmd represents the job command group
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage harvest jobs",
	Long: `Manage harvest jobs: list and remove saved job state.

Available subcommands:
  list   - List all harvest jobs
  delete - Remove the saved state of a job`,
}

// jobListCmd represents the job list command
var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all harvest jobs",
	Long: `List all harvest jobs in the jobs directory.

Shows:
  - Job ID
  - Status
  - Completed and total harvests
  - Records written
  - Age

Example:
  oaiharvest job list`,
	RunE: runJobList,
}

// jobDeleteCmd represents the job delete command
var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Remove the saved state of a job",
	Long: `Remove the state directory of a job.

Harvested records stay in the sink. A job that a running process holds
cannot be deleted.

Example:
  oaiharvest job delete abc-123-def`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeJobIDs,
	RunE:              runJobDelete,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobDeleteCmd)
}

func runJobList(cmd *cobra.Command, args []string) error {
	// Load configuration
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// List all job IDs
	jobIDs, err := services.ListAllJobs(config.JobsDir)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobIDs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	type jobSummary struct {
		ID         string
		Status     models.JobStatus
		Completed  int
		Harvests   int
		Records    int64
		CreatedAt  time.Time
		ElapsedStr string
	}

	var jobs []jobSummary
	for _, jobID := range jobIDs {
		job, err := pipeline.LoadJob(config.JobsDir, jobID)
		if err != nil {
			lib.DefaultLogger.Warn("Failed to load job", lib.FieldJobID, jobID, lib.FieldError, err)
			continue
		}

		completed := 0
		for _, run := range job.Harvests {
			if run.Status == models.RunStatusCompleted {
				completed++
			}
		}

		jobs = append(jobs, jobSummary{
			ID:         job.JobID,
			Status:     job.Status,
			Completed:  completed,
			Harvests:   len(job.Harvests),
			Records:    job.RecordsWritten,
			CreatedAt:  job.CreatedAt,
			ElapsedStr: formatDuration(time.Since(job.CreatedAt)),
		})
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	fmt.Printf("%-38s %-15s %-10s %-10s %s\n", "JOB ID", "STATUS", "HARVESTS", "RECORDS", "AGE")
	fmt.Println("----------------------------------------------------------------------------------------")

	for _, j := range jobs {
		fmt.Printf("%-38s %s %-13s %-10s %-10d %s\n",
			j.ID,
			getJobStatusSymbol(j.Status),
			j.Status,
			fmt.Sprintf("%d/%d", j.Completed, j.Harvests),
			j.Records,
			j.ElapsedStr,
		)
	}

	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := services.DeleteJob(config.JobsDir, jobID); err != nil {
		return err
	}

	fmt.Printf("✓ Deleted job %s\n", jobID)
	return nil
}

func getJobStatusSymbol(status models.JobStatus) string {
	switch status {
	case models.JobStatusCompleted:
		return "✓"
	case models.JobStatusInProgress:
		return "→"
	case models.JobStatusFailed:
		return "✗"
	case models.JobStatusStopped:
		return "⏸"
	case models.JobStatusPending:
		return "○"
	default:
		return " "
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
