package domain

import "errors"

// Sentinel errors used throughout the application.
// Dispatch errors describe why a submission was declined; the remaining ones
// are translated to HTTP status codes by a single mapError function.
var (
	// dispatch
	ErrQueueFull          = errors.New("worker queue is at its hard capacity")
	ErrAdmissionRejected  = errors.New("admission rejected: worker load above priority threshold")
	ErrInvalidAffinityKey = errors.New("affinity key must not be negative")
	ErrDispatcherStopped  = errors.New("dispatcher is stopped")
	ErrDispatcherStarted  = errors.New("dispatcher already started")
	ErrActionPanicked     = errors.New("work item action panicked")

	// messages
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict: idempotency key already exists")
	ErrInvalidPriority = errors.New("invalid priority: must be low, normal, or critical")
	ErrInvalidSession  = errors.New("session_id must not be empty")
	ErrInvalidContent  = errors.New("content must be between 1 and 4096 characters")
	ErrOverloaded      = errors.New("server is overloaded, try again later")
)
