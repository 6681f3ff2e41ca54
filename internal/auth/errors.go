package auth

import "errors"

var (
	ErrMissingCredential = errors.New("missing credential fields")
	ErrBadCredential     = errors.New("credential rejected")
	ErrUnknownRole       = errors.New("unknown role")
	ErrInvalidToken      = errors.New("invalid or expired token")
)
