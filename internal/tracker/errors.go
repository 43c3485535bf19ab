package tracker

import (
	"errors"
	"fmt"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/db"
)

// Every error returned by the tracker matches exactly one of these with
// errors.Is, or is a *ValidationError for errors.As.
var (
	ErrUnauthenticated  = auth.ErrUnauthenticated
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError names the input field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OpError records the operation and resource that failed.
type OpError struct {
	Op       string
	Resource string
	ID       string
	Err      error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Resource, e.ID, e.Err)
	}
	if e.Resource != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// forbidden never names the resource, so a denial reads the same whether
// or not the target exists.
func forbidden(op string) error {
	return &OpError{Op: op, Err: ErrForbidden}
}

// classify maps a store or resolver error onto the tracker taxonomy.
func classify(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}

	var opErr *OpError
	var verr *db.ValidationError
	switch {
	case errors.As(err, &opErr), errors.Is(err, ErrUnauthenticated):
		return err
	case errors.Is(err, db.ErrNotFound):
		return &OpError{Op: op, Resource: resource, ID: id, Err: ErrNotFound}
	case errors.As(err, &verr):
		return &OpError{Op: op, Resource: resource, ID: id, Err: &ValidationError{Field: verr.Field, Reason: verr.Reason}}
	}
	return &OpError{Op: op, Resource: resource, ID: id, Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
}
