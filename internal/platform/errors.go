package platform

import (
	"errors"

	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
)

// ProbeState tags the outcome of an existence check.
type ProbeState int

const (
	// StateFound means the function exists and answered the query.
	StateFound ProbeState = iota
	// StateAbsent means the platform positively reported the function missing.
	StateAbsent
	// StateUnreachable means the query itself failed, so existence is unknown.
	StateUnreachable
)

// String returns the human-readable name of the state.
func (s ProbeState) String() string {
	switch s {
	case StateFound:
		return "found"
	case StateAbsent:
		return "absent"
	case StateUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Probe is the tagged result of an existence check. Err carries the cause
// when the state is StateUnreachable.
type Probe struct {
	// State tags the outcome.
	State ProbeState
	// Err is the underlying query error for unreachable probes.
	Err error
}

// ConflictError reports that a mutating call was rejected because a prior
// update on the same function has not finished applying. It is the only
// error kind the deployment retries.
type ConflictError struct {
	// Cause is the platform error that was classified as a conflict.
	Cause error
}

// Error describes the conflict including the platform's own message.
func (e *ConflictError) Error() string {
	message := "configuration update conflicts with an in-progress update"
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

// Unwrap exposes the underlying platform error.
func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// isConflict classifies an in-progress update rejection. The typed exception
// is preferred; the error-code fallback covers responses the SDK could not
// map to a concrete type.
func isConflict(err error) bool {
	var conflict *lambdatypes.ResourceConflictException
	if errors.As(err, &conflict) {
		return true
	}

	var apiErr smithy.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceConflictException"
}

// isNotFound classifies a positive "function does not exist" response.
func isNotFound(err error) bool {
	var notFound *lambdatypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException"
}
