package subsync

import "errors"

var (
	// ErrSubscriberNotFound is returned when a user has no subscription record
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrMissingUserID is returned when an event carries no user correlation id
	ErrMissingUserID = errors.New("missing user id")

	// ErrMissingSubscriptionRef is returned when an event carries no subscription id
	ErrMissingSubscriptionRef = errors.New("missing subscription ref")

	// ErrInvalidStatus is returned for a status outside the canonical vocabulary
	ErrInvalidStatus = errors.New("invalid canonical status")

	// ErrStoreUnavailable is returned when the reconciliation store is unreachable
	ErrStoreUnavailable = errors.New("store unavailable")
)
