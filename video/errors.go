package video

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindDownload      ErrorKind = "download_error"
	KindJobSubmission ErrorKind = "job_submission_error"
	KindPolling       ErrorKind = "polling_error"
	KindJobFailed     ErrorKind = "job_failed"
	KindDecode        ErrorKind = "decode_error"
	KindEncode        ErrorKind = "encode_error"
	KindStore         ErrorKind = "store_error"
	KindCanceled      ErrorKind = "canceled"
)

var (
	ErrInvalidFrameRate     = errors.New("frame rate must be positive")
	ErrPollAttemptsExceeded = errors.New("maximum poll attempts exceeded")
)

// PipelineError is returned by Pipeline.Process for every failure
type PipelineError struct {
	Kind  ErrorKind
	Stage State
	// Reason is the human readable cause. For failed jobs it is the service's message as is
	Reason string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s while %s: %s", e.Kind, e.Stage, e.Reason)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// JobFailedError means the recognition service reported the job as failed
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("face search job %s failed: %s", e.JobID, e.Reason)
}

// PollError means the job status could not be obtained
type PollError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("polling job %s failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
