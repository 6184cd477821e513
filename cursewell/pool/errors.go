package pool

import "errors"

var (
	// ErrUserNotFound means the acting or referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrCurseNotFound means the referenced curse does not exist.
	ErrCurseNotFound = errors.New("curse not found")

	// ErrForbidden means the actor has no rights over the target curse.
	ErrForbidden = errors.New("not the owner of this curse")

	// ErrAllowanceExhausted means the actor is out of blessings and not yet
	// eligible to replenish.
	ErrAllowanceExhausted = errors.New("out of blessings")

	// ErrAlreadyBlessed means the curse was blessed before the actor's
	// attempt landed; blessed is a one-way latch.
	ErrAlreadyBlessed = errors.New("curse already blessed")

	// ErrNothingAvailable means no eligible curse could be claimed right
	// now. Not a failure; callers simply have nothing to show.
	ErrNothingAvailable = errors.New("no available curses")

	// ErrAnonymousCurse means the operation needs an identified author but
	// the curse was sent anonymously.
	ErrAnonymousCurse = errors.New("curse has no author")
)
