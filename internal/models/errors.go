package models

import "errors"

// Error variables shared across modules. Callers branch with errors.Is.
var (
	ErrEmptyPhoneNumber     = errors.New("phone number cannot be empty")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrSessionNotFound      = errors.New("session not found")
	ErrCorruptSession       = errors.New("stored session is malformed")
	ErrResolutionFailed     = errors.New("identity resolution failed")
	ErrGeneratorUnavailable = errors.New("reply generator not configured")
	ErrEmptyReply           = errors.New("reply generator returned empty text")
)
