package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Scheduling conflicts surface synchronously to the caller and are never
// retried.
var (
	// ErrAlreadyRun means a batch row already exists for the clinic and date
	// and is not eligible for reopen.
	ErrAlreadyRun = errors.New("batch already run for this clinic and date")

	// ErrOutsideWindow means the current clinic-local time is outside the
	// clinic's configured batch window.
	ErrOutsideWindow = errors.New("outside clinic batch window")

	// ErrNoEligibleWorkflow is returned by a Screener when the patient has no
	// applicable screening workflow. The task is recorded as skipped, not as
	// a failure.
	ErrNoEligibleWorkflow = errors.New("no eligible workflow for patient")
)

// TaskError classifies a screening failure. Transient errors are retried with
// backoff up to the configured bound; permanent errors fail the task
// immediately.
type TaskError struct {
	Class     string
	Transient bool
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Transient reports whether err is worth retrying. Errors that do not carry a
// TaskError classification are treated as permanent.
func Transient(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Transient
}

// Classify reduces an error to an (error_class, error_msg) pair for the task
// row. The message carries a short fingerprint so repeated occurrences of the
// same failure collapse to one alert key downstream.
func Classify(err error) (class, msg string) {
	class = "internal"
	var te *TaskError
	if errors.As(err, &te) && te.Class != "" {
		class = te.Class
	}
	return class, fmt.Sprintf("[%s] %v", fingerprint(err.Error()), err)
}

// fingerprint is a stable 8-hex-digit digest of the error text.
func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
