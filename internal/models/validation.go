package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// validatorInstance builds the shared validator on first use
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("sql_identifier", func(fl validator.FieldLevel) bool {
			return sqlIdentifier.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validateStruct runs tag validation and flattens the result into one error
func validateStruct(obj interface{}) error {
	err := validatorInstance().Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s' (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s' (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return &ValidationError{Field: fieldErrs[0].Namespace(), Reason: strings.Join(msgs, "; ")}
}

// ValidationError reports the first failing field and all failures
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validate checks if a ProjectConfig has valid fields
func (c *ProjectConfig) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}

	for i, repo := range c.Repositories {
		if repo.Window != "" && repo.Window != "none" && (repo.From == "" || repo.Until == "") {
			return &ValidationError{
				Field:  fmt.Sprintf("repositories[%d].window", i),
				Reason: fmt.Sprintf("repository %s: window %q requires both from and until", repo.BaseURL, repo.Window),
			}
		}
	}

	return nil
}

// Validate checks the producer/consumer settings
func (c JobConfig) Validate() error {
	return validateStruct(c)
}

// Validate checks if a HarvestJobState has valid fields
func (j *HarvestJobState) Validate() error {
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	if _, err := uuid.Parse(j.JobID); err != nil {
		return fmt.Errorf("invalid job_id: must be a valid UUID: %w", err)
	}

	if !IsValidJobStatus(j.Status) {
		return fmt.Errorf("invalid status: %s", j.Status)
	}

	seen := make(map[int]bool, len(j.Harvests))
	for _, run := range j.Harvests {
		if seen[run.Index] {
			return fmt.Errorf("duplicate harvest index %d", run.Index)
		}
		seen[run.Index] = true
		if err := run.Validate(); err != nil {
			return fmt.Errorf("harvest %d: %w", run.Index, err)
		}
	}

	if j.RecordsWritten < 0 || j.RecordsRejected < 0 {
		return errors.New("record counters cannot be negative")
	}

	return nil
}

// Validate checks if a HarvestRunState has valid fields
func (r *HarvestRunState) Validate() error {
	if r.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if !r.Verb.IsValid() {
		return fmt.Errorf("invalid verb: %s", r.Verb)
	}
	if !IsValidRunStatus(r.Status) {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if r.RequestCount < 0 || r.ResponseCount < 0 {
		return errors.New("counters cannot be negative")
	}
	if r.StartedAt != nil && r.EndedAt != nil && r.EndedAt.Before(*r.StartedAt) {
		return errors.New("ended_at cannot be before started_at")
	}
	return nil
}

// ValidateJobsDir checks if the jobs directory exists and is writable
// Creates the directory automatically if it doesn't exist
func ValidateJobsDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create jobs directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access jobs directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("jobs_dir is not a directory: %s", path)
	}

	// Check write permission by attempting to create a temp file
	testFile := filepath.Join(path, fmt.Sprintf(".write_test_%s", uuid.New().String()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("jobs directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}
