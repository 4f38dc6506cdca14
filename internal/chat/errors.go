package chat

import "errors"

// Error taxonomy for the messaging core. Callers match with errors.Is.
var (
	// ErrUnauthorized covers both an invalid credential and a user that is
	// not a participant of the target conversation. The two are surfaced
	// identically so membership is not leaked.
	ErrUnauthorized = errors.New("chat: unauthorized")

	// ErrInvalidArgument marks a missing or malformed required field.
	ErrInvalidArgument = errors.New("chat: invalid argument")

	// ErrDuplicateParticipant is returned by the persistence layer when a
	// (conversation, user) pair already exists. The resolver treats it as
	// success and re-fetches; it is never surfaced to API callers.
	ErrDuplicateParticipant = errors.New("chat: participant already exists")

	// ErrNotFound marks a conversation that does not exist.
	ErrNotFound = errors.New("chat: conversation not found")

	// ErrMediaNotFound is returned by Media implementations when the blob
	// store definitively reports that the key references nothing. Transport
	// failures must not wrap it.
	ErrMediaNotFound = errors.New("chat: media key not found")
)
