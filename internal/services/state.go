package services

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

const (
	StateFileName = "state.json"
)

// GetJobDir returns the directory holding a job's state and lock file
func GetJobDir(jobsBaseDir string, jobID string) string {
	return filepath.Join(jobsBaseDir, jobID)
}

// GetStateFilePath returns the full path to a job's state file
func GetStateFilePath(jobsBaseDir string, jobID string) string {
	return filepath.Join(GetJobDir(jobsBaseDir, jobID), StateFileName)
}

// LoadJobState reads a job's state from disk.
// A missing file is ErrJobNotFound; an unparsable or invalid one is
// ErrCorruptedJobState.
func LoadJobState(jobsBaseDir string, jobID string) (*models.HarvestJobState, error) {
	data, err := os.ReadFile(GetStateFilePath(jobsBaseDir, jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, lib.ErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read state of job %s", jobID)
	}

	job := &models.HarvestJobState{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, lib.ErrCorruptedJobState(jobID, err)
	}
	if err := job.Validate(); err != nil {
		return nil, lib.ErrCorruptedJobState(jobID, err)
	}
	return job, nil
}

// SaveJobState validates a job and replaces its state file atomically
func SaveJobState(jobsBaseDir string, job *models.HarvestJobState) error {
	if err := job.Validate(); err != nil {
		return errors.Wrap(err, "cannot save invalid job")
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode state of job %s", job.JobID)
	}
	return writeFileAtomic(GetStateFilePath(jobsBaseDir, job.JobID), data)
}

// writeFileAtomic writes data next to path and renames it into place, so
// readers see either the old or the new content
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	tmp := filepath.Join(dir, ".state.tmp."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write temp state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

// ListAllJobs returns the sorted IDs of every job directory with a state file
func ListAllJobs(jobsBaseDir string) ([]string, error) {
	entries, err := os.ReadDir(jobsBaseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read jobs directory")
	}

	jobIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(GetStateFilePath(jobsBaseDir, entry.Name())); err == nil {
			jobIDs = append(jobIDs, entry.Name())
		}
	}
	slices.Sort(jobIDs)
	return jobIDs, nil
}

// DeleteJob removes a job's directory. Harvested records are untouched.
// A job locked by a running process is refused with ErrJobLocked.
func DeleteJob(jobsBaseDir string, jobID string) error {
	jobDir := GetJobDir(jobsBaseDir, jobID)
	if _, err := os.Stat(jobDir); errors.Is(err, fs.ErrNotExist) {
		return lib.ErrJobNotFound(jobID)
	}
	if IsJobLocked(jobsBaseDir, jobID) {
		return lib.ErrJobLocked(jobID)
	}
	if err := os.RemoveAll(jobDir); err != nil {
		return errors.Wrapf(err, "failed to delete job %s", jobID)
	}
	return nil
}
