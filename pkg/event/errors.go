package event

import "errors"

// Core error taxonomy. Authorization and validation errors are surfaced only
// to the offending connection; store errors degrade durability silently.
var (
	ErrForbidden          = errors.New("sender role not permitted for this event type")
	ErrStoreUnavailable   = errors.New("durable message store unavailable")
	ErrUnknownRequestType = errors.New("unrecognized request message type")
)

// Validation errors.
var (
	ErrInvalidEventType   = errors.New("invalid event type")
	ErrInvalidMessageType = errors.New("message type must be 1-50 characters, alphanumeric + underscore/hyphen")
	ErrPayloadTooLarge    = errors.New("payload exceeds 64KB limit")
)
