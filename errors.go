package mailsentry

import "errors"

var (
	// ErrEmptyDomain is returned when the domain is empty after trimming.
	ErrEmptyDomain = errors.New("mailsentry: domain is empty")

	// ErrInternal is returned when a check failed unexpectedly (a panic).
	// No partial report is returned with it.
	ErrInternal = errors.New("mailsentry: internal error")
)
