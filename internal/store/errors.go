package store

import "errors"

var (
	ErrVisitNotFound     = errors.New("visit not found")
	ErrAlreadyVoided     = errors.New("visit already voided")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrInvalidTransition = errors.New("invalid visit transition")
	ErrDuplicateNumber   = errors.New("visit number already issued")
)
