package main

import (
	"errors"

	"github.com/baiirun/backlog/internal/tracker"
)

const (
	exitGeneric          = 1
	exitUnauthenticated  = 2
	exitForbidden        = 3
	exitNotFound         = 4
	exitValidation       = 5
	exitStoreUnavailable = 6
)

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var verr *tracker.ValidationError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, tracker.ErrUnauthenticated):
		return exitUnauthenticated
	case errors.Is(err, tracker.ErrForbidden):
		return exitForbidden
	case errors.Is(err, tracker.ErrNotFound):
		return exitNotFound
	case errors.As(err, &verr):
		return exitValidation
	case errors.Is(err, tracker.ErrStoreUnavailable):
		return exitStoreUnavailable
	}
	return exitGeneric
}

// usageError marks input the CLI rejects before calling the tracker, such
// as an unknown item type.
func usageError(field string, err error) error {
	return &tracker.OpError{Op: "parse flags", Err: &tracker.ValidationError{Field: field, Reason: err.Error()}}
}

// missing turns a NotFound delete outcome into an error so the exit status
// reflects it.
func missing(op, resource, ref string) error {
	return &tracker.OpError{Op: op, Resource: resource, ID: ref, Err: tracker.ErrNotFound}
}
