package review

import "errors"

// Sentinel errors for the review package.
// Check with errors.Is: errors.Is(err, review.ErrForbidden)
var (
	ErrNotFound      = errors.New("review: no such session or token")
	ErrForbidden     = errors.New("review: action by non-owner")
	ErrInvalidState  = errors.New("review: action not valid in current state")
	ErrSessionActive = errors.New("review: owner already has an active session")
	ErrEmptyQueue    = errors.New("review: nothing to review")
)
