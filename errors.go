package raop

import "errors"

// Sentinel errors for session operations.
// These errors enable reliable classification using errors.Is().

// Configuration and lifecycle errors.
var (
	// ErrInvalidConfig indicates the session configuration cannot
	// produce a working session; construction fails outright.
	ErrInvalidConfig = errors.New("invalid session configuration")

	// ErrNotConnected indicates the operation needs an established
	// connection.
	ErrNotConnected = errors.New("session is not connected")

	// ErrAlreadyConnected indicates Connect was called on a live
	// session.
	ErrAlreadyConnected = errors.New("session is already connected")
)

// Streaming errors.
var (
	// ErrInvalidState indicates the operation is illegal in the
	// session's current state; callers should re-check State rather
	// than retry blindly.
	ErrInvalidState = errors.New("operation illegal in current state")

	// ErrNotPaired indicates streaming was attempted before pairing
	// completed.
	ErrNotPaired = errors.New("session is not paired")

	// ErrChunkTooLarge indicates SendChunk was handed more sample
	// frames than the configured chunk size.
	ErrChunkTooLarge = errors.New("chunk exceeds configured frame count")

	// ErrNotAccepting indicates SendChunk raced a concurrent Stop or
	// Disconnect and the frame was not sent.
	ErrNotAccepting = errors.New("session stopped accepting frames")
)
