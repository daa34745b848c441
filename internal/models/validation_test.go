package models_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/models"
)

// TestProjectConfig_Validate tests tag validation of the configuration
func TestProjectConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.ProjectConfig)
		field  string
	}{
		{"defaults", func(*models.ProjectConfig) {}, ""},
		{"zero batch size", func(c *models.ProjectConfig) { c.Job.BatchSize = 0 }, "BatchSize"},
		{"unknown driver", func(c *models.ProjectConfig) { c.Sink.Driver = "mysql" }, "Driver"},
		{"memory sink without dsn", func(c *models.ProjectConfig) { c.Sink.Driver = "memory"; c.Sink.DSN = "" }, ""},
		{"sqlite without dsn", func(c *models.ProjectConfig) { c.Sink.DSN = "" }, "DSN"},
		{"table injection", func(c *models.ProjectConfig) { c.Sink.Table = "records; DROP TABLE x" }, "Table"},
		{"backoff order", func(c *models.ProjectConfig) { c.Retry.MaxBackoffMs = 10 }, "MaxBackoffMs"},
		{"bad method", func(c *models.ProjectConfig) { c.HTTP.Method = "PUT" }, "Method"},
		{"bad from address", func(c *models.ProjectConfig) { c.HTTP.From = "not-an-address" }, "From"},
		{"bad repository url", func(c *models.ProjectConfig) {
			c.Repositories = []models.RepositoryConfig{{BaseURL: "not a url"}}
		}, "BaseURL"},
		{"window without range", func(c *models.ProjectConfig) {
			c.Repositories = []models.RepositoryConfig{{BaseURL: testBaseURL, Window: "monthly", From: "2024-01-01"}}
		}, "repositories[0].window"},
		{"bad date", func(c *models.ProjectConfig) {
			c.Repositories = []models.RepositoryConfig{{BaseURL: testBaseURL, From: "01/02/2024"}}
		}, "From"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var validationErr *models.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Contains(t, validationErr.Field, tt.field)
		})
	}
}

// TestJobConfig_WithDefaults tests that zero fields take the defaults
func TestJobConfig_WithDefaults(t *testing.T) {
	cfg := models.JobConfig{BatchSize: 7}.WithDefaults()
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, models.DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, models.DefaultOfferTimeout, cfg.OfferTimeout())
	assert.Equal(t, models.DefaultPollTimeout, cfg.PollTimeout())
	assert.NoError(t, cfg.Validate())
}

// TestHarvestJobState_Validate tests job state validation
func TestHarvestJobState_Validate(t *testing.T) {
	valid := models.HarvestJobState{
		JobID:    uuid.New().String(),
		Status:   models.JobStatusPending,
		Harvests: testRuns(t),
	}
	assert.NoError(t, valid.Validate())

	badID := valid
	badID.JobID = "job-1"
	assert.Error(t, badID.Validate())

	duplicate := valid
	duplicate.Harvests = []models.HarvestRunState{valid.Harvests[0], valid.Harvests[0]}
	assert.Error(t, duplicate.Validate())

	badRun := valid
	badRun.Harvests = []models.HarvestRunState{{BaseURL: testBaseURL, Verb: "Nope", Status: models.RunStatusPending}}
	assert.Error(t, badRun.Validate())
}

// TestValidateJobsDir tests creation and rejection of the jobs directory
func TestValidateJobsDir(t *testing.T) {
	tmpDir := t.TempDir()

	created := filepath.Join(tmpDir, "nested", "jobs")
	require.NoError(t, models.ValidateJobsDir(created))
	assert.DirExists(t, created)

	file := filepath.Join(tmpDir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, models.ValidateJobsDir(file))
}
