package transport

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteBufferFull  = errors.New("write buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrMissingToken     = errors.New("missing handshake token")
)
