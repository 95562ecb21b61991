package transcription

import (
	"errors"
	"fmt"
)

// Terminal client errors
var (
	// ErrNoCredential indicates no API key was available - checked before
	// any network I/O
	ErrNoCredential = errors.New("no API key configured")
	// ErrEmptyResult indicates the job completed but produced no text
	// (no speech detected) - distinct from any network or API failure
	ErrEmptyResult = errors.New("no speech detected")
	// ErrTimeout indicates the job did not reach a terminal state within
	// the polling attempt ceiling
	ErrTimeout = errors.New("transcription timed out")
)

// Protocol step names carried by APIError
const (
	StepUpload = "upload"
	StepCreate = "create"
	StepPoll   = "poll"
	StepFetch  = "fetch"
	StepAuth   = "auth"
)

// APIError is a remote API failure: an unexpected status code or an
// error-state job, with the server's message attached.
type APIError struct {
	Step       string // Which protocol step failed
	StatusCode int    // HTTP status code (0 for job-level errors)
	Message    string // Server-provided error body or message
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transcription %s failed: status %d: %s", e.Step, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription %s failed: %s", e.Step, e.Message)
}
