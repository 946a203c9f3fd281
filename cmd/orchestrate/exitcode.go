package main

import (
	"errors"

	"github.com/clodoworks/orchestrator/internal/errortypes"
)

// Exit codes, fixed by the CLI's contract with scripts and CI callers.
const (
	exitSuccess           = 0
	exitGenericFailure    = 1
	exitValidationFailed  = 2
	exitCancelled         = 3
	exitRateLimited       = 4
	exitPartialRollback   = 5
)

// exitCodeForError maps a returned error to one of the fixed exit codes.
// Errors that aren't an *errortypes.OrchestratorError (a bug surfacing as a
// plain error, a flag-parsing failure) fall back to the generic code.
func exitCodeForError(err error) int {
	if err == nil {
		return exitSuccess
	}

	var oe *errortypes.OrchestratorError
	if !errors.As(err, &oe) {
		return exitGenericFailure
	}

	switch oe.Category {
	case errortypes.CategoryValidation, errortypes.CategoryPermission:
		return exitValidationFailed
	case errortypes.CategoryUserCancelled:
		return exitCancelled
	case errortypes.CategoryQuota:
		return exitRateLimited
	case errortypes.CategoryRollback:
		return exitPartialRollback
	default:
		return exitGenericFailure
	}
}
