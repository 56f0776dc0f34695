package repository

import "errors"

var (
	// ErrInvalidArgument means a required identifier or body was missing;
	// no store call was attempted.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConversationNotFound is the explicit negative result of a
	// conversation lookup.
	ErrConversationNotFound = errors.New("conversation not found")
)
