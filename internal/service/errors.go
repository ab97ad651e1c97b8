package service

import (
	"errors"
	"fmt"

	"branch-ops-service/internal/store"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInfrastructure = errors.New("infrastructure error")
)

var (
	ErrInvalidAction        = fmt.Errorf("%w: invalid action", ErrValidation)
	ErrTableUnavailable     = fmt.Errorf("%w: table is not available", ErrConflict)
	ErrTerminalState        = fmt.Errorf("%w: kitchen order is already finished", ErrConflict)
	ErrInvalidTransition    = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrNoLinkedTransaction  = fmt.Errorf("%w: kitchen order has no linked transaction", ErrConflict)
	ErrReservationNotActive = fmt.Errorf("%w: reservation is not pending", ErrConflict)
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// classify maps an error escaping a transaction onto the error kinds
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrInfrastructure):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
}

// outcome is the metrics label for an error kind
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
