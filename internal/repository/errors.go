// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the auction engine to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrConflict is returned when an update cannot be performed because
// of conflicting state, such as confirming payment for an auction that
// is already paid. Handlers should translate this into an HTTP 409
// response.
var ErrConflict = errors.New("conflict")

// ErrConcurrentModification is returned by compare-and-swap updates when
// the row changed between the read and the write.  Callers may retry
// with a fresh snapshot.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ErrAuctionNotFound is returned when no auction matches the given id.
var ErrAuctionNotFound = errors.New("auction not found")

// ErrProfileNotFound is returned when no profile matches the given id or email.
var ErrProfileNotFound = errors.New("profile not found")

// ErrInsufficientTokens is returned by the conditional token debit when
// the balance dropped below one between the check and the write.
var ErrInsufficientTokens = errors.New("insufficient tokens")
