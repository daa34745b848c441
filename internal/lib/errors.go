package lib

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// HarvestError represents a categorized error with context and user guidance
type HarvestError struct {
	Category    ErrorCategory
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the user can do to fix it
	HTTPStatus  int      // HTTP status code if applicable
	Code        string   // OAI-PMH error code if the repository reported one
	IsRetryable bool     // Can a fresh run from the retry parameters succeed?
}

// ErrorCategory classifies errors for handling and display
type ErrorCategory string

const (
	CategoryProtocol      ErrorCategory = "protocol"
	CategoryTransport     ErrorCategory = "transport"
	CategoryHandler       ErrorCategory = "handler"
	CategoryObserver      ErrorCategory = "observer"
	CategorySink          ErrorCategory = "sink"
	CategoryFileSystem    ErrorCategory = "filesystem"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
)

// Sentinel errors for harvester and job state.
var (
	ErrHarvestInProgress = errors.New("cannot start a new harvest while one is in progress")
	ErrNoHarvest         = errors.New("no current harvest parameters")
	ErrJobStopped        = errors.New("harvest job is no longer running")
	ErrEmptyDocument     = errors.New("response contains no XML document")
)

// Error implements the error interface
func (e *HarvestError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.HTTPStatus > 0 {
		sb.WriteString(fmt.Sprintf(" (HTTP %d)", e.HTTPStatus))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *HarvestError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	if e.IsRetryable {
		sb.WriteString("\nThis run can be resumed with 'oaiharvest harvest resume <job-id>'.\n")
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *HarvestError) Unwrap() error {
	return e.Cause
}

// Protocol Errors

// ErrBadStatus creates an error for a repository answering with anything but 200
func ErrBadStatus(statusCode int, request string) *HarvestError {
	return &HarvestError{
		Category:   CategoryProtocol,
		Message:    fmt.Sprintf("Got HTTP status %d for request %s", statusCode, request),
		HTTPStatus: statusCode,
		Guidance: []string{
			"Check that the base URL points at an OAI-PMH endpoint",
			"Inspect the repository's response in a browser",
		},
		IsRetryable: statusCode >= 500 || statusCode == 429 || statusCode == 408,
	}
}

// ErrEmptyBody creates an error for a 200 response without an entity
func ErrEmptyBody(request string) *HarvestError {
	return &HarvestError{
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("Got empty response body for request %s", request),
		Guidance: []string{
			"The repository returned no content",
			"Retry later; the repository may be restarting",
		},
		IsRetryable: true,
	}
}

// ErrMalformedResponse creates an error for XML that could not be parsed
func ErrMalformedResponse(request string, cause error) *HarvestError {
	return &HarvestError{
		Category: CategoryProtocol,
		Message:  fmt.Sprintf("Malformed OAI-PMH response for request %s", request),
		Cause:    cause,
		Guidance: []string{
			"The repository produced invalid XML",
			"Report the problem to the repository maintainers",
		},
		IsRetryable: false,
	}
}

// ErrOAI creates an error for an <error> element in an OAI-PMH response
func ErrOAI(code string, message string) *HarvestError {
	guidance := []string{"Check the request arguments against the repository's Identify response"}
	if code == "badResumptionToken" {
		guidance = append(guidance, "The resumption token expired; start a new harvest instead of resuming")
	}
	if code == "" {
		code = "unknown"
	}
	return &HarvestError{
		Category:    CategoryProtocol,
		Message:     fmt.Sprintf("OAI-PMH error %s: %s", code, message),
		Code:        code,
		Guidance:    guidance,
		IsRetryable: false,
	}
}

// Transport Errors

// ErrTransport creates an error for network failures while talking to a repository
func ErrTransport(url string, cause error) *HarvestError {
	return &HarvestError{
		Category: CategoryTransport,
		Message:  fmt.Sprintf("Request to %s failed", url),
		Cause:    cause,
		Guidance: []string{
			"Check your network connection",
			fmt.Sprintf("Verify the URL is correct: %s", url),
			"Resume the job once the repository is reachable",
		},
		IsRetryable: true,
	}
}

// Handler Errors

// ErrHandler wraps a failure raised by a response handler
func ErrHandler(event string, cause error) *HarvestError {
	return &HarvestError{
		Category:    CategoryHandler,
		Message:     fmt.Sprintf("Response handler failed on %s", event),
		Cause:       cause,
		IsRetryable: false,
	}
}

// Sink Errors

// ErrSinkWrite creates an error for a batch the sink could not store at all
func ErrSinkWrite(size int, cause error) *HarvestError {
	return &HarvestError{
		Category: CategorySink,
		Message:  fmt.Sprintf("Failed to write batch of %d records", size),
		Cause:    cause,
		Guidance: []string{
			"Check that the database is reachable and writable",
			"Records in this batch may or may not have been stored",
		},
		IsRetryable: false,
	}
}

// Configuration Errors

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(field string, reason string) *HarvestError {
	return &HarvestError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Guidance: []string{
			fmt.Sprintf("Check the '%s' field in your config file", field),
			"Compare with oaiharvest.example.yaml for correct format",
		},
		IsRetryable: false,
	}
}

// State Errors

// ErrJobNotFound creates an error for missing job state
func ErrJobNotFound(jobID string) *HarvestError {
	return &HarvestError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Job '%s' not found", jobID),
		Guidance: []string{
			"Check the job ID is correct",
			"Use 'oaiharvest job list' to see all available jobs",
		},
		IsRetryable: false,
	}
}

// ErrCorruptedJobState creates an error for invalid job state files
func ErrCorruptedJobState(jobID string, cause error) *HarvestError {
	return &HarvestError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Job state file for '%s' is corrupted", jobID),
		Cause:    cause,
		Guidance: []string{
			"Check jobs/<job-id>/state.json for syntax errors",
			"Start a new harvest if the file cannot be repaired",
		},
		IsRetryable: false,
	}
}

// ErrJobLocked creates an error when job is locked by another process
func ErrJobLocked(jobID string) *HarvestError {
	return &HarvestError{
		Category: CategoryState,
		Message:  fmt.Sprintf("Job '%s' is currently being run by another process", jobID),
		Guidance: []string{
			"Wait for the other harvest to complete",
			"If stuck, remove the lock file: jobs/<job-id>/.lock",
		},
		IsRetryable: true,
	}
}

// Helper Functions

// CombineErrors keeps the primary error and attaches the secondary one to it.
// errors.Is and errors.As only see the primary.
func CombineErrors(primary error, secondary error) error {
	switch {
	case primary == nil:
		return secondary
	case secondary == nil:
		return primary
	default:
		return errors.WithSecondaryError(primary, secondary)
	}
}

// IsCategory reports whether err carries a HarvestError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var harvestErr *HarvestError
	if errors.As(err, &harvestErr) {
		return harvestErr.Category == category
	}
	return false
}

// WrapError wraps a standard error with HarvestError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *HarvestError {
	return &HarvestError{
		Category:    category,
		Message:     message,
		Cause:       cause,
		Guidance:    guidance,
		IsRetryable: IsNetworkError(cause),
	}
}

// ClassifyError examines an error and returns appropriate user guidance
func ClassifyError(err error) *HarvestError {
	if err == nil {
		return nil
	}

	var harvestErr *HarvestError
	if errors.As(err, &harvestErr) {
		return harvestErr
	}

	if errors.Is(err, ErrHarvestInProgress) || errors.Is(err, ErrNoHarvest) || errors.Is(err, ErrJobStopped) {
		return &HarvestError{
			Category: CategoryState,
			Message:  "Harvest is not in a state that allows this operation",
			Cause:    err,
		}
	}

	if IsNetworkError(err) {
		return &HarvestError{
			Category:    CategoryTransport,
			Message:     "Network connectivity issue",
			Cause:       err,
			Guidance:    []string{"Check network connection", "Verify the repository is up"},
			IsRetryable: true,
		}
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "no space left") {
		return &HarvestError{
			Category: CategoryFileSystem,
			Message:  "Cannot write local state",
			Cause:    err,
			Guidance: []string{"Check permissions and free space for jobs_dir and the sink database"},
		}
	}

	return &HarvestError{
		Category:    CategoryProtocol,
		Message:     "An error occurred",
		Cause:       err,
		Guidance:    []string{"Check the technical details below", "Run with --verbose for more information"},
		IsRetryable: false,
	}
}
