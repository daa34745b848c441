package services_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/services"
)

// TestAcquireJobLock tests exclusive locking of a job
func TestAcquireJobLock(t *testing.T) {
	jobsDir := t.TempDir()
	jobID := uuid.New().String()
	logger := lib.NewNopLogger()

	assert.False(t, services.IsJobLocked(jobsDir, jobID))

	lock, err := services.AcquireJobLock(jobsDir, jobID, logger)
	require.NoError(t, err)
	assert.True(t, services.IsJobLocked(jobsDir, jobID))

	info, err := os.ReadFile(filepath.Join(services.GetJobDir(jobsDir, jobID), ".lock.info"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(info), "pid="))

	_, err = services.AcquireJobLock(jobsDir, jobID, logger)
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryState))

	require.NoError(t, lock.Release())
	assert.False(t, services.IsJobLocked(jobsDir, jobID))
	assert.NoError(t, lock.Release(), "second release is a no-op")

	again, err := services.AcquireJobLock(jobsDir, jobID, logger)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

// TestWithJobLock tests that the lock is held for the callback only
func TestWithJobLock(t *testing.T) {
	jobsDir := t.TempDir()
	jobID := uuid.New().String()
	errCallback := errors.New("callback failed")

	err := services.WithJobLock(jobsDir, jobID, lib.NewNopLogger(), func() error {
		assert.True(t, services.IsJobLocked(jobsDir, jobID))
		return errCallback
	})
	assert.ErrorIs(t, err, errCallback)
	assert.False(t, services.IsJobLocked(jobsDir, jobID))
}
