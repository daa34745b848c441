package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trobanga/oaiharvest/internal/harvester"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/pipeline"
	"github.com/trobanga/oaiharvest/internal/services"
	"github.com/trobanga/oaiharvest/internal/ui"
)

var (
	noProgress bool
	dryRun     bool

	// Repository given on the command line instead of the config file
	flagRepo models.RepositoryConfig
)

// harvestCmd represents the harvest command group
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run and inspect harvest jobs",
	Long: `Run and inspect harvest jobs.

Available subcommands:
  start  - Start a new harvest job
  status - Show the state of a harvest job
  resume - Continue a stopped or failed harvest job`,
}

// harvestStartCmd represents the harvest start command
var harvestStartCmd = &cobra.Command{
	Use:   "start [base-url]",
	Short: "Start a new harvest job",
	Long: `Start a new harvest job.

Without a base URL every repository in the config file is harvested.
With a base URL only that repository is harvested, using the flags below.

A from/until range can be split into daily, weekly or monthly windows; each
window is harvested as a separate list request.

Examples:
  # Harvest all configured repositories
  oaiharvest harvest start

  # Harvest one repository
  oaiharvest harvest start https://example.org/oai --metadata-prefix oai_dc

  # Harvest a set, one month at a time
  oaiharvest harvest start https://example.org/oai --set physics \
    --from 2024-01-01 --until 2024-06-30 --window monthly

  # Harvest without writing to the database
  oaiharvest harvest start https://example.org/oai --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHarvestStart,
}

// harvestStatusCmd represents the harvest status command
var harvestStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a harvest job",
	Long: `Display the state of a harvest job and each of its harvests.

Shows:
  • Job ID and status
  • Records written and rejected
  • Requests and responses per harvest
  • The resumption token a stopped harvest would continue from

Example:
  oaiharvest harvest status abc-123-def`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeJobIDs,
	RunE:              runHarvestStatus,
}

// harvestResumeCmd represents the harvest resume command
var harvestResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Continue a stopped or failed harvest job",
	Long: `Continue every unfinished harvest of a job.

A harvest that received a resumption token continues from it. Any other
unfinished harvest starts over. Completed harvests are not repeated.

Example:
  oaiharvest harvest status abc-123-def
  oaiharvest harvest resume abc-123-def`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeJobIDs,
	RunE:              runHarvestResume,
}

func init() {
	rootCmd.AddCommand(harvestCmd)
	harvestCmd.AddCommand(harvestStartCmd)
	harvestCmd.AddCommand(harvestStatusCmd)
	harvestCmd.AddCommand(harvestResumeCmd)

	for _, c := range []*cobra.Command{harvestStartCmd, harvestResumeCmd} {
		c.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
		c.Flags().BoolVar(&dryRun, "dry-run", false, "Keep records in memory instead of writing them to the sink")
	}

	flags := harvestStartCmd.Flags()
	flags.StringVar(&flagRepo.Verb, "verb", "", "OAI-PMH verb (default ListRecords)")
	flags.StringVar(&flagRepo.MetadataPrefix, "metadata-prefix", "", "metadata format to request (default oai_dc)")
	flags.StringVar(&flagRepo.Set, "set", "", "set spec to harvest")
	flags.StringVar(&flagRepo.Identifier, "identifier", "", "record identifier (GetRecord)")
	flags.StringVar(&flagRepo.From, "from", "", "lower datestamp bound (YYYY-MM-DD)")
	flags.StringVar(&flagRepo.Until, "until", "", "upper datestamp bound (YYYY-MM-DD)")
	flags.StringVar(&flagRepo.Window, "window", "", "split from/until into windows: daily, weekly, monthly")
	flags.Int("batch-size", 0, "records per sink write")
	flags.String("method", "", "HTTP method for requests: GET or POST")

	_ = viper.BindPFlag("job.batch_size", flags.Lookup("batch-size"))
	_ = viper.BindPFlag("http.method", flags.Lookup("method"))
}

func runHarvestStart(cmd *cobra.Command, args []string) error {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()
	if path := services.GetConfigFilePath(); path != "" {
		logger.Debug("Loaded configuration", "file", path)
	}

	var params []models.HarvestParams
	if len(args) == 1 {
		repo := flagRepo
		repo.BaseURL = args[0]
		params, err = services.ExpandRepository(repo)
	} else {
		if len(config.Repositories) == 0 {
			return fmt.Errorf("no repositories configured\n\nPass a base URL or add repositories to the config file")
		}
		params, err = services.RepositoryParams(config.Repositories)
	}
	if err != nil {
		return fmt.Errorf("invalid harvest parameters: %w", err)
	}

	job, err := pipeline.CreateJob(params, *config)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	lib.LogJobCreated(logger, job.JobID, len(params))

	fmt.Printf("✓ Created harvest job: %s\n", job.JobID)
	for _, p := range params {
		fmt.Printf("  %s\n", p.String())
	}
	fmt.Printf("\n")

	indexes := make([]int, len(params))
	for i := range indexes {
		indexes[i] = i
	}

	return runHarvest(cmd.Context(), config, job, indexes, params, logger)
}

func runHarvestResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	fmt.Printf("Loading job %s...\n", jobID)
	job, err := pipeline.LoadJob(config.JobsDir, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status == models.JobStatusCompleted {
		fmt.Printf("✓ Job %s is already completed\n", jobID)
		return nil
	}

	if job.Status == models.JobStatusInProgress {
		if services.IsJobLocked(config.JobsDir, jobID) {
			return lib.ErrJobLocked(jobID)
		}
		// The process running it exited without recording an outcome
		stopped := models.UpdateJobStatus(*job, models.JobStatusStopped)
		job = &stopped
	}

	plan, err := pipeline.PlanResume(job)
	if err != nil {
		return fmt.Errorf("cannot resume job: %w", err)
	}
	if len(plan.Params) == 0 {
		fmt.Printf("Nothing left to harvest for job %s\n", jobID)
		return nil
	}

	fmt.Printf("Current status: %s\n", job.Status)
	fmt.Printf("Resuming %d of %d harvests\n\n", len(plan.Params), len(job.Harvests))

	// Resumed harvests run with the configuration the job was created with
	snapshot := job.Config
	snapshot.JobsDir = config.JobsDir
	return runHarvest(cmd.Context(), &snapshot, job, plan.Indexes, plan.Params, logger)
}

// runHarvest executes the given harvests of a job and records the outcome.
// indexes[i] is the run index params[i] belongs to.
func runHarvest(ctx context.Context, config *models.ProjectConfig, job *models.HarvestJobState, indexes []int, params []models.HarvestParams, logger *lib.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	lock, err := services.AcquireJobLock(config.JobsDir, job.JobID, logger)
	if err != nil {
		return fmt.Errorf("cannot run harvest: %w\n\nAnother process may be working on this job", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release job lock", lib.FieldJobID, job.JobID, lib.FieldError, err)
		}
	}()

	started, err := pipeline.StartJob(job)
	if err != nil {
		return err
	}
	if err := pipeline.UpdateJob(config.JobsDir, started); err != nil {
		return fmt.Errorf("failed to save job state: %w", err)
	}

	var sink services.RecordStore
	if dryRun {
		fmt.Println("Dry run: records are kept in memory")
		sink = services.NewMemorySink()
	} else {
		spinner := ui.NewSpinner(fmt.Sprintf("Opening %s sink", config.Sink.Driver))
		spinner.Start()
		err = lib.LogOperation(logger, "open record sink", func() error {
			var openErr error
			sink, openErr = services.OpenRecordSink(ctx, config.Sink, config.Retry, logger)
			return openErr
		})
		spinner.Stop(err == nil)
		if err != nil {
			failed := pipeline.FailJob(started, err.Error())
			_ = pipeline.UpdateJob(config.JobsDir, failed)
			return err
		}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Failed to close record sink", lib.FieldError, err)
		}
	}()

	client := services.NewHTTPClientFromConfig(*config, logger)
	stateObserver := pipeline.NewJobStateObserver(config.JobsDir, started, logger)

	var harvestJob *pipeline.HarvestJob
	opts := []pipeline.JobOption{
		pipeline.WithParams(params...),
		pipeline.WithLogger(logger),
		pipeline.WithRunObservers(func(i int, _ models.HarvestParams) []harvester.Observer {
			return []harvester.Observer{stateObserver.ForRun(indexes[i])}
		}),
		pipeline.WithHarvesterOptions(harvester.WithRequestMethod(config.HTTP.Method)),
	}

	var progress *ui.HarvestProgress
	if !noProgress {
		progress = ui.NewHarvestProgress(os.Stderr, func() int64 {
			return harvestJob.Stats().RecordsConsumed
		}, client.BytesRead)
		opts = append(opts, pipeline.WithObservers(progress))
	}

	harvestJob, err = pipeline.NewHarvestJob(config.Job, client, sink, opts...)
	if err != nil {
		return err
	}
	stateObserver.AttachStats(harvestJob.Stats)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := harvestJob.Start(ctx); err != nil {
		return err
	}
	if err := harvestJob.Wait(); err != nil {
		logger.Warn("Harvest producers reported an error", lib.FieldError, err)
	}

	if progress != nil {
		_ = progress.Finish()
	}

	final, err := stateObserver.Finish()
	if err != nil {
		return fmt.Errorf("failed to save final job state: %w", err)
	}
	stats := harvestJob.Stats()

	fmt.Printf("\n")
	switch final.Status {
	case models.JobStatusCompleted:
		lib.LogJobCompleted(logger, final.JobID, stats.RecordsWritten, final.UpdatedAt.Sub(final.CreatedAt))
		fmt.Printf("✓ Harvest completed successfully\n")
	case models.JobStatusStopped:
		fmt.Printf("Harvest stopped before the end of its lists\n")
		fmt.Printf("Run 'oaiharvest harvest resume %s' to continue\n", final.JobID)
	default:
		fmt.Printf("✗ Harvest failed: %s\n", final.ErrorMessage)
		fmt.Printf("Run 'oaiharvest harvest resume %s' to retry the failed harvests\n", final.JobID)
	}

	fmt.Printf("Job ID: %s\n", final.JobID)
	fmt.Printf("  Records: %d written, %d rejected, %d dropped\n", stats.RecordsWritten, stats.RecordsRejected, stats.RecordsDropped)
	fmt.Printf("  Batches: %d written, %d failed\n", stats.BatchesFlushed, stats.FailedFlushes)
	if progress != nil {
		fmt.Printf("  %s\n", progress.Summary())
	}

	if final.Status == models.JobStatusFailed {
		return fmt.Errorf("harvest job %s failed", final.JobID)
	}
	return nil
}

func runHarvestStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	job, err := pipeline.LoadJob(config.JobsDir, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	fmt.Println(pipeline.GetJobSummary(job))
	if services.IsJobLocked(config.JobsDir, jobID) {
		fmt.Println("A process is currently running this job")
		fmt.Println()
	}

	fmt.Println("Harvests:")
	for _, run := range job.Harvests {
		fmt.Printf("  %s %-12s %s %s", getRunStatusSymbol(run.Status), run.Status, run.Verb, run.BaseURL)
		fmt.Printf(" (%d requests, %d responses)", run.RequestCount, run.ResponseCount)
		if run.ResumptionToken != nil && !run.ResumptionToken.IsEmpty() {
			fmt.Printf("\n      Resumption token: %s", run.ResumptionToken.Token)
			if remaining, ok := run.ResumptionToken.Remaining(); ok {
				fmt.Printf(" (%d records remaining)", remaining)
			}
		}
		if run.Error != "" {
			fmt.Printf("\n      Error: %s", run.Error)
		}
		fmt.Println()
	}

	return nil
}

func getRunStatusSymbol(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return "✓"
	case models.RunStatusRunning:
		return "→"
	case models.RunStatusFailed:
		return "✗"
	case models.RunStatusStopped, models.RunStatusInterrupted:
		return "⏸"
	default:
		return " "
	}
}
