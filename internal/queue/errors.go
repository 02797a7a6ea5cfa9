package queue

import (
	"errors"
	"fmt"
)

// Machine-readable failure codes reported to CLI callers.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyClaimed  = "ALREADY_CLAIMED"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeFileConflict    = "FILE_CONFLICT"
	ErrCodeClaimMismatch   = "CLAIM_MISMATCH"
	ErrCodeVersionMismatch = "VERSION_MISMATCH"
	ErrCodeLeaseExpired    = "LEASE_EXPIRED"
	ErrCodeRaceLost        = "RACE_LOST"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// OpError is returned by every failing queue operation.
type OpError struct {
	Op          string
	Code        string
	ViolationID string
	Message     string
	Err         error
}

func (e *OpError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ViolationID != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.ViolationID, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Code extracts the failure code of err; errors not produced by the queue
// map to INTERNAL_ERROR.
func Code(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return ErrCodeInternal
}

func opErr(op, code, id, format string, args ...any) *OpError {
	return &OpError{Op: op, Code: code, ViolationID: id, Message: fmt.Sprintf(format, args...)}
}

func internalErr(op, id string, err error) *OpError {
	return &OpError{Op: op, Code: ErrCodeInternal, ViolationID: id, Err: err}
}
