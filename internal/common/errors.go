// Package common defines sentinel errors shared by the repositories and
// services of cgeofiles. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
	ErrorBusy     = errors.New("operation already running")

	// Validation errors.
	ErrorUnknownFolder   = errors.New("unknown folder")
	ErrorInvalidLocation = errors.New("invalid location")
)
