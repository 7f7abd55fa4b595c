package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies lifecycle failures for the transport layer.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindForbidden   ErrorKind = "forbidden"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
)

// Reason narrows an ErrorKind to the precondition that failed.
type Reason string

const (
	ReasonExam              Reason = "exam"
	ReasonDrive             Reason = "drive"
	ReasonActiveAttempt     Reason = "active-attempt"
	ReasonNotEnrolled       Reason = "not-enrolled"
	ReasonDriveNotOpen      Reason = "drive-not-open"
	ReasonDriveClosed       Reason = "drive-closed"
	ReasonQuotaExhausted    Reason = "quota-exhausted"
	ReasonTimeExpired       Reason = "time-expired"
	ReasonAttemptInProgress Reason = "attempt-in-progress"
	ReasonStore             Reason = "store"
)

// LifecycleError is returned by every lifecycle operation that fails.
type LifecycleError struct {
	Kind   ErrorKind
	Reason Reason
	Err    error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Is matches on kind and reason. A target with an empty reason matches any reason of its kind.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Lifecycle errors, matched with errors.Is.
var (
	ErrExamNotFound      = &LifecycleError{Kind: KindNotFound, Reason: ReasonExam}
	ErrDriveNotFound     = &LifecycleError{Kind: KindNotFound, Reason: ReasonDrive}
	ErrNoActiveAttempt   = &LifecycleError{Kind: KindNotFound, Reason: ReasonActiveAttempt}
	ErrNotEnrolled       = &LifecycleError{Kind: KindForbidden, Reason: ReasonNotEnrolled}
	ErrDriveNotOpen      = &LifecycleError{Kind: KindForbidden, Reason: ReasonDriveNotOpen}
	ErrDriveClosed       = &LifecycleError{Kind: KindForbidden, Reason: ReasonDriveClosed}
	ErrQuotaExhausted    = &LifecycleError{Kind: KindForbidden, Reason: ReasonQuotaExhausted}
	ErrTimeExpired       = &LifecycleError{Kind: KindForbidden, Reason: ReasonTimeExpired}
	ErrAttemptInProgress = &LifecycleError{Kind: KindConflict, Reason: ReasonAttemptInProgress}
	ErrUnavailable       = &LifecycleError{Kind: KindUnavailable}
)

// unavailable wraps a store failure. Errors that already carry a lifecycle kind pass through.
func unavailable(op string, err error) error {
	var le *LifecycleError
	if errors.As(err, &le) {
		return err
	}
	return &LifecycleError{Kind: KindUnavailable, Reason: ReasonStore, Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the lifecycle kind of err, or KindUnavailable for foreign errors.
func KindOf(err error) ErrorKind {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnavailable
}

// ReasonOf returns the lifecycle reason of err, or ReasonStore for foreign errors.
func ReasonOf(err error) Reason {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Reason
	}
	return ReasonStore
}
