package event

import (
	"encoding/json"
)

// Event types carried on the wire. Submit flows student -> teacher,
// dispatch teacher -> students, discuss student <-> student, request is
// answered directly and never fans out.
const (
	TypeSubmit   = "submit"
	TypeDispatch = "dispatch"
	TypeDiscuss  = "discuss"
	TypeRequest  = "request"

	// Outbound-only types.
	TypeError      = "error"
	TypeSuperseded = "superseded"

	// Side-channel notices delivered to the teacher room on student
	// connect/disconnect.
	TypeStudentOnline  = "student_online"
	TypeStudentOffline = "student_offline"
)

// Participant roles.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// TeacherID is the process-wide singleton teacher participant id. Durable
// records encode the teacher as a NULL participant reference; this id exists
// only for in-memory identity plumbing.
const TeacherID = "teacher"

// Request message types recognized by the router.
const (
	RequestRestore = "restore"
)

// Identity is a stable logical participant, distinct from any single
// transport connection. The teacher identity is a process-wide singleton.
type Identity struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	StudentNo   int    `json:"studentNo,omitempty"`
	GroupID     int    `json:"groupId,omitempty"`
	RoleInGroup int    `json:"roleInGroup,omitempty"`
}

// IsTeacher reports whether the identity is the teacher singleton.
func (id *Identity) IsTeacher() bool {
	return id.Role == RoleTeacher
}

// RoleRef names a role slot within a group, e.g. the recorder of group 7.
type RoleRef struct {
	GroupID int `json:"groupId"`
	Role    int `json:"role"`
}

// Target names the explicit recipients of a dispatch or discuss event. Resolution precedence is participants, then groups, then
// roles; an empty target means the whole audience.
type Target struct {
	ParticipantIDs []string  `json:"participantIds,omitempty"`
	GroupIDs       []int     `json:"groupIds,omitempty"`
	Roles          []RoleRef `json:"roles,omitempty"`
}

// IsBroadcast reports whether the target names no explicit recipients.
func (t *Target) IsBroadcast() bool {
	return t == nil || (len(t.ParticipantIDs) == 0 && len(t.GroupIDs) == 0 && len(t.Roles) == 0)
}

// Envelope is an inbound typed event. Payload stays opaque at this layer;
// schema validation for specific message types belongs to callers above the
// core.
type Envelope struct {
	EventType     string          `json:"eventType"`
	MessageType   string          `json:"messageType"`
	ActivityScope string          `json:"activityScope,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	To            *Target         `json:"to,omitempty"`
}

// Outbound mirrors an inbound envelope plus sender identity and the
// server-assigned timestamp. From is nil when the teacher is the sender.
type Outbound struct {
	EventType     string          `json:"eventType"`
	MessageType   string          `json:"messageType"`
	ActivityScope string          `json:"activityScope,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	From          *Identity       `json:"from,omitempty"`
	At            int64           `json:"at"`
}

// Ack reports emission outcome to the originating connection only.
// Durability is asynchronous and deliberately not reflected here.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	At      int64  `json:"at"`
}

// Message is the durable record of a routed event. FromID nil means the
// teacher authored it; ToID nil means "the teacher" for submit and "whole
// audience" for broadcast dispatch/discuss. Records are immutable once
// appended; only a bulk reset removes them.
type Message struct {
	ID            int64   `json:"id"`
	FromID        *string `json:"fromId"`
	ToID          *string `json:"toId"`
	EventType     string  `json:"eventType"`
	MessageType   string  `json:"messageType"`
	ActivityScope string  `json:"activityScope,omitempty"`
	Payload       []byte  `json:"payload,omitempty"`
	CreatedAt     int64   `json:"createdAt"`
}
