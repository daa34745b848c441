package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/models"
)

func testRuns(t *testing.T) []models.HarvestRunState {
	t.Helper()
	return models.InitializeRuns([]models.HarvestParams{
		models.MustHarvestParams(testBaseURL, models.VerbListRecords, map[string]string{"metadataPrefix": "oai_dc"}),
		models.MustHarvestParams("https://other.example.org/oai", models.VerbListIdentifiers, map[string]string{"metadataPrefix": "marc"}),
	})
}

// TestInitializeRuns tests that every parameter set gets a pending run
func TestInitializeRuns(t *testing.T) {
	runs := testRuns(t)
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].Index)
	assert.Equal(t, 1, runs[1].Index)
	assert.Equal(t, models.RunStatusPending, runs[1].Status)
	assert.Equal(t, models.VerbListIdentifiers, runs[1].Verb)
	assert.Equal(t, "marc", runs[1].Params["metadataPrefix"])
}

// TestUpdateRunProgress tests that notifications carry counters and retry parameters into the run
func TestUpdateRunProgress(t *testing.T) {
	run := testRuns(t)[0]
	params := models.MustHarvestParams(testBaseURL, models.VerbListRecords, map[string]string{"metadataPrefix": "oai_dc"})
	responseTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	updated := models.UpdateRunProgress(run, models.Notification{
		Type:             models.ResponseProcessed,
		Token:            &models.ResumptionToken{Token: "next"},
		LastResponseTime: &responseTime,
		Params:           params,
		Stats:            map[string]int64{models.StatRequestCount: 3, models.StatResponseCount: 2},
	})

	assert.Equal(t, int64(3), updated.RequestCount)
	assert.Equal(t, int64(2), updated.ResponseCount)
	assert.Equal(t, "next", updated.ResumptionToken.Token)
	assert.Equal(t, responseTime, *updated.LastResponseTime)
	assert.Equal(t, map[string]string{"verb": "ListRecords", "resumptionToken": "next"}, updated.RetryParams)
	assert.Nil(t, run.ResumptionToken, "input run must not change")
}

// TestRunStatusFor tests the mapping of final harvest flags
func TestRunStatusFor(t *testing.T) {
	assert.Equal(t, models.RunStatusCompleted, models.RunStatusFor(models.HarvestState{}, nil))
	assert.Equal(t, models.RunStatusStopped, models.RunStatusFor(models.HarvestState{ExplicitlyStopped: true}, nil))
	assert.Equal(t, models.RunStatusInterrupted, models.RunStatusFor(models.HarvestState{Interrupted: true, ExplicitlyStopped: true}, nil))
	assert.Equal(t, models.RunStatusFailed, models.RunStatusFor(models.HarvestState{Interrupted: true}, errors.New("boom")))
}

// TestDeriveJobStatus tests the job outcome derived from its runs
func TestDeriveJobStatus(t *testing.T) {
	job := models.HarvestJobState{Harvests: testRuns(t)}
	now := time.Now()

	job.Harvests[0] = models.EndRun(models.StartRun(job.Harvests[0], now), models.RunStatusCompleted, "", now)
	assert.Equal(t, models.JobStatusStopped, models.DeriveJobStatus(job))
	assert.Len(t, models.ResumableRuns(job), 1)

	job.Harvests[1] = models.EndRun(job.Harvests[1], models.RunStatusFailed, "HTTP 503", now)
	assert.Equal(t, models.JobStatusFailed, models.DeriveJobStatus(job))

	job.Harvests[1] = models.EndRun(job.Harvests[1], models.RunStatusCompleted, "", now)
	assert.Equal(t, models.JobStatusCompleted, models.DeriveJobStatus(job))
	assert.True(t, models.IsJobComplete(job))
	assert.Empty(t, models.ResumableRuns(job))
}

// TestReplaceRun tests that replacing a run copies the run list
func TestReplaceRun(t *testing.T) {
	job := models.HarvestJobState{Harvests: testRuns(t)}
	run := job.Harvests[1]
	run.Status = models.RunStatusRunning

	updated := models.ReplaceRun(job, run)
	assert.Equal(t, models.RunStatusRunning, updated.Harvests[1].Status)
	assert.Equal(t, models.RunStatusPending, job.Harvests[1].Status)

	got, ok := models.GetRunByIndex(updated, 1)
	require.True(t, ok)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	_, ok = models.GetRunByIndex(updated, 7)
	assert.False(t, ok)
}

// TestJobStatus_CanTransitionTo tests the job state machine
func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusPending, models.JobStatusInProgress, true},
		{models.JobStatusPending, models.JobStatusCompleted, false},
		{models.JobStatusInProgress, models.JobStatusStopped, true},
		{models.JobStatusStopped, models.JobStatusInProgress, true},
		{models.JobStatusFailed, models.JobStatusInProgress, true},
		{models.JobStatusCompleted, models.JobStatusInProgress, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
