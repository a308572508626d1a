package common

import (
	"errors"
	"fmt"
)

// Business logic errors
var (
	// General errors
	ErrNotFound  = errors.New("entry not found")
	ErrForbidden = errors.New("forbidden")

	// Approval errors
	ErrAlreadyMerged      = errors.New("entry was already approved by another moderator")
	ErrAlreadyRejected    = errors.New("entry is already rejected")
	ErrRejectedTooLongAgo = errors.New("entry was rejected too long ago to be approved")
	ErrSaveConflict       = errors.New("base revision is stale, manual merge required")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)

// ErrQueuedForModeration is the sentinel behind QueuedError. Callers match it
// with errors.Is to tell the interception abort apart from a real failure.
var ErrQueuedForModeration = errors.New("queued for moderation")

// QueuedError is the abort signal raised by the interception pipeline. It is
// not a fault: the caller must redirect the user with a notice instead of
// rendering an error page.
type QueuedError struct {
	EntryID int64
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("queued for moderation (entry %d)", e.EntryID)
}

// Is makes errors.Is(err, ErrQueuedForModeration) succeed
func (e *QueuedError) Is(target error) bool {
	return target == ErrQueuedForModeration
}

// QueuedEntryID returns the entry id when err is the queued-for-moderation
// signal, or (0, false) otherwise.
func QueuedEntryID(err error) (int64, bool) {
	var qe *QueuedError
	if errors.As(err, &qe) {
		return qe.EntryID, true
	}
	return 0, false
}
