package models

import "fmt"

// Error taxonomy shared by every service. Controllers translate these into
// HTTP status codes; the services themselves never see the wire format.

// NotFoundError: the requested entity does not exist or already expired.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// UnauthorizedError: the caller is not who they claim to be.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// ForbiddenError: the caller is known but not allowed, e.g. not the host.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// InvalidRequestError: the request contradicts current state or is malformed.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string { return e.Message }

// ConflictError: lost a race with another concurrent operation on the same
// entity. A first-class outcome, not a bug; callers retry the whole operation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// TryLaterError: a transient condition; the caller should retry shortly.
type TryLaterError struct {
	Message string
}

func (e *TryLaterError) Error() string { return e.Message }

// GameliftClientError wraps a failed gateway call. Transient errors leave
// local state untouched; permanent ones mean the cached entity can no longer
// be trusted and has been repaired (usually deleted) before this surfaced.
type GameliftClientError struct {
	Message   string
	Transient bool
	Err       error
}

func (e *GameliftClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GameliftClientError) Unwrap() error { return e.Err }
