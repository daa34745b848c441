package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/trobanga/oaiharvest/internal/lib"
)

const (
	lockFileName     = ".lock"
	lockInfoFileName = ".lock.info"
)

// JobLock represents a file lock for a specific job
// Prevents two processes from harvesting into the same job at once
type JobLock struct {
	jobID  string
	lock   *flock.Flock
	logger *lib.Logger
}

// GetLockFilePath returns the path of a job's lock file
func GetLockFilePath(jobsDir string, jobID string) string {
	return filepath.Join(GetJobDir(jobsDir, jobID), lockFileName)
}

// AcquireJobLock attempts to acquire an exclusive lock for a job
// Returns ErrJobLocked if another process holds it. The lock is released
// by Release or when the process exits.
func AcquireJobLock(jobsDir string, jobID string, logger *lib.Logger) (*JobLock, error) {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	jobDir := GetJobDir(jobsDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	fl := flock.New(GetLockFilePath(jobsDir, jobID))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, lib.ErrJobLocked(jobID)
	}

	jl := &JobLock{
		jobID:  jobID,
		lock:   fl,
		logger: logger,
	}

	if err := jl.writeLockInfo(jobDir); err != nil {
		logger.Warn("Failed to write lock info", lib.FieldJobID, jobID, lib.FieldError, err)
	}

	logger.Debug("Acquired job lock", lib.FieldJobID, jobID, "pid", os.Getpid())
	return jl, nil
}

// Release releases the job lock
func (jl *JobLock) Release() error {
	if jl.lock == nil {
		return nil
	}

	if err := jl.lock.Unlock(); err != nil {
		jl.logger.Warn("Failed to release job lock", lib.FieldJobID, jl.jobID, lib.FieldError, err)
		return err
	}
	_ = os.Remove(filepath.Join(filepath.Dir(jl.lock.Path()), lockInfoFileName))

	jl.logger.Debug("Released job lock", lib.FieldJobID, jl.jobID, "pid", os.Getpid())
	jl.lock = nil
	return nil
}

// WithJobLock executes a function while holding a job lock
func WithJobLock(jobsDir string, jobID string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireJobLock(jobsDir, jobID, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release job lock", lib.FieldError, err)
		}
	}()

	return fn()
}

// IsJobLocked checks if a job is currently locked by any process
// This is a non-destructive check; a lock it manages to take is dropped again.
func IsJobLocked(jobsDir string, jobID string) bool {
	lockPath := GetLockFilePath(jobsDir, jobID)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}

// writeLockInfo records who holds the lock, for humans inspecting a stuck job
func (jl *JobLock) writeLockInfo(jobDir string) error {
	info := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(jobDir, lockInfoFileName), []byte(info), 0644)
}
