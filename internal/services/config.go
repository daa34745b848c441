package services

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. OAIHARVEST_SINK_DSN for sink.dsn
const EnvPrefix = "OAIHARVEST"

// LoadConfig loads configuration from file and merges with CLI flags
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("oaiharvest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/oaiharvest")
		viper.AddConfigPath("/etc/oaiharvest")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	// Config file is optional; defaults plus flags are enough for a one-off harvest
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values so yaml keys stay the single
	// source of naming
	config := models.ProjectConfig{
		HTTP: models.HTTPConfig{
			TimeoutSeconds: viper.GetInt("http.timeout_seconds"),
			UserAgent:      viper.GetString("http.user_agent"),
			From:           viper.GetString("http.from"),
			RateLimit:      viper.GetFloat64("http.rate_limit"),
			RateBurst:      viper.GetInt("http.rate_burst"),
			Method:         strings.ToUpper(viper.GetString("http.method")),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
		Job: models.JobConfig{
			BatchSize:      viper.GetInt("job.batch_size"),
			QueueCapacity:  viper.GetInt("job.queue_capacity"),
			OfferTimeoutMs: viper.GetInt("job.offer_timeout_ms"),
			PollTimeoutMs:  viper.GetInt("job.poll_timeout_ms"),
			MaxConcurrent:  viper.GetInt("job.max_concurrent_harvests"),
		},
		Sink: models.SinkConfig{
			Driver: viper.GetString("sink.driver"),
			DSN:    viper.GetString("sink.dsn"),
			Table:  viper.GetString("sink.table"),
		},
		JobsDir: viper.GetString("jobs_dir"),
	}

	if err := viper.UnmarshalKey("repositories", &config.Repositories); err != nil {
		return nil, lib.ErrInvalidConfig("repositories", err.Error())
	}

	jobsDir, err := ExpandPath(config.JobsDir)
	if err != nil {
		return nil, lib.ErrInvalidConfig("jobs_dir", err.Error())
	}
	config.JobsDir = jobsDir

	if err := config.Validate(); err != nil {
		field := "config"
		if verr, ok := err.(*models.ValidationError); ok {
			field = verr.Field
		}
		return nil, lib.ErrInvalidConfig(field, err.Error())
	}

	if err := models.ValidateJobsDir(config.JobsDir); err != nil {
		return nil, lib.WrapError(lib.CategoryFileSystem, "Jobs directory is not usable", err,
			"Set jobs_dir to a writable directory")
	}

	return &config, nil
}

func setDefaults() {
	d := models.DefaultConfig()
	viper.SetDefault("http.timeout_seconds", d.HTTP.TimeoutSeconds)
	viper.SetDefault("http.user_agent", d.HTTP.UserAgent)
	viper.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	viper.SetDefault("http.rate_burst", d.HTTP.RateBurst)
	viper.SetDefault("http.method", d.HTTP.Method)
	viper.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	viper.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMs)
	viper.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMs)
	viper.SetDefault("job.batch_size", d.Job.BatchSize)
	viper.SetDefault("job.queue_capacity", d.Job.QueueCapacity)
	viper.SetDefault("job.offer_timeout_ms", d.Job.OfferTimeoutMs)
	viper.SetDefault("job.poll_timeout_ms", d.Job.PollTimeoutMs)
	viper.SetDefault("job.max_concurrent_harvests", d.Job.MaxConcurrent)
	viper.SetDefault("sink.driver", d.Sink.Driver)
	viper.SetDefault("sink.dsn", d.Sink.DSN)
	viper.SetDefault("sink.table", d.Sink.Table)
	viper.SetDefault("jobs_dir", d.JobsDir)
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// ExpandPath resolves a leading ~ to the user's home directory
func ExpandPath(path string) (string, error) {
	return homedir.Expand(path)
}

// RepositoryParams turns configured repositories into harvest parameter
// sets, splitting windowed repositories into one set per window.
func RepositoryParams(repos []models.RepositoryConfig) ([]models.HarvestParams, error) {
	var all []models.HarvestParams
	for i, repo := range repos {
		params, err := ExpandRepository(repo)
		if err != nil {
			return nil, lib.ErrInvalidConfig(fmt.Sprintf("repositories[%d]", i), err.Error())
		}
		all = append(all, params...)
	}
	return all, nil
}
