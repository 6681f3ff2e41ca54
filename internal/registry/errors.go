package registry

import "errors"

var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrNoIdentity    = errors.New("connection has no resolved identity")
)
