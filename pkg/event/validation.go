package event

import "regexp"

var messageTypeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxPayloadBytes caps opaque payloads at 64KB.
const MaxPayloadBytes = 65536

// IsInboundEventType reports whether the type is one clients may send.
func IsInboundEventType(eventType string) bool {
	switch eventType {
	case TypeSubmit, TypeDispatch, TypeDiscuss, TypeRequest:
		return true
	default:
		return false
	}
}

// IsValidMessageType checks the free-form message type against the same
// format rules the rest of the system assumes for map keys and room-safe
// strings.
func IsValidMessageType(messageType string) bool {
	if len(messageType) < 1 || len(messageType) > 50 {
		return false
	}
	return messageTypeRegex.MatchString(messageType)
}

// Validate ensures an inbound envelope is structurally sound before it
// reaches the router.
func (e *Envelope) Validate() error {
	if !IsInboundEventType(e.EventType) {
		return ErrInvalidEventType
	}
	if !IsValidMessageType(e.MessageType) {
		return ErrInvalidMessageType
	}
	if len(e.Payload) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}
