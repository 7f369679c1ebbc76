package registry

import (
	"errors"
	"fmt"

	"clinic/registration-service/internal/models"
)

var (
	ErrValidation                  = errors.New("validation failed")
	ErrDuplicateRequiresResolution = errors.New("same-day duplicate requires resolution")
	ErrAllocationFailure           = errors.New("number allocation failed")
	ErrNotFound                    = errors.New("visit not found")
	ErrAlreadyVoided               = errors.New("visit already voided")
)

// ValidationError names the request field that failed. No state was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DuplicateError carries today's visits that look like the same person. The
// caller retries with an explicit Resolution.
type DuplicateError struct {
	Candidates []models.Visit
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%d same-day visit(s) match this patient", len(e.Candidates))
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateRequiresResolution
}

// AllocationError means a counter increment did not complete and no visit
// was created.
type AllocationError struct {
	Counter string
	Err     error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s: %v", e.Counter, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocationFailure
}

// AlreadyVoidedError carries the stored visit with its original reason so
// idempotent callers can treat it as success.
type AlreadyVoidedError struct {
	Visit models.Visit
}

func (e *AlreadyVoidedError) Error() string {
	return fmt.Sprintf("visit %s already voided", e.Visit.VisitID)
}

func (e *AlreadyVoidedError) Is(target error) bool {
	return target == ErrAlreadyVoided
}
