package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{
			name: "valid submit",
			env:  Envelope{EventType: TypeSubmit, MessageType: "vote"},
		},
		{
			name: "valid dispatch with payload",
			env:  Envelope{EventType: TypeDispatch, MessageType: "task_update", Payload: json.RawMessage(`{"step":2}`)},
		},
		{
			name:    "unknown event type",
			env:     Envelope{EventType: "shout", MessageType: "vote"},
			wantErr: ErrInvalidEventType,
		},
		{
			name:    "outbound-only event type rejected inbound",
			env:     Envelope{EventType: TypeSuperseded, MessageType: "vote"},
			wantErr: ErrInvalidEventType,
		},
		{
			name:    "empty message type",
			env:     Envelope{EventType: TypeSubmit, MessageType: ""},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "message type with spaces",
			env:     Envelope{EventType: TypeSubmit, MessageType: "my vote"},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "message type too long",
			env:     Envelope{EventType: TypeSubmit, MessageType: strings.Repeat("a", 51)},
			wantErr: ErrInvalidMessageType,
		},
		{
			name: "message type at length limit",
			env:  Envelope{EventType: TypeSubmit, MessageType: strings.Repeat("a", 50)},
		},
		{
			name:    "payload over limit",
			env:     Envelope{EventType: TypeSubmit, MessageType: "vote", Payload: bytes.Repeat([]byte("x"), MaxPayloadBytes+1)},
			wantErr: ErrPayloadTooLarge,
		},
		{
			name: "payload at limit",
			env:  Envelope{EventType: TypeSubmit, MessageType: "vote", Payload: bytes.Repeat([]byte("x"), MaxPayloadBytes)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidMessageType(t *testing.T) {
	valid := []string{"vote", "task_update", "my-type", "A1", "x"}
	for _, mt := range valid {
		if !IsValidMessageType(mt) {
			t.Errorf("IsValidMessageType(%q) = false, want true", mt)
		}
	}
	invalid := []string{"", "has space", "emoji😀", "dot.dot", "slash/type"}
	for _, mt := range invalid {
		if IsValidMessageType(mt) {
			t.Errorf("IsValidMessageType(%q) = true, want false", mt)
		}
	}
}

func TestTarget_IsBroadcast(t *testing.T) {
	var nilTarget *Target
	if !nilTarget.IsBroadcast() {
		t.Error("nil target should be broadcast")
	}
	if !(&Target{}).IsBroadcast() {
		t.Error("empty target should be broadcast")
	}
	if (&Target{ParticipantIDs: []string{"p1"}}).IsBroadcast() {
		t.Error("target with participants should not be broadcast")
	}
	if (&Target{GroupIDs: []int{3}}).IsBroadcast() {
		t.Error("target with groups should not be broadcast")
	}
	if (&Target{Roles: []RoleRef{{GroupID: 3, Role: 1}}}).IsBroadcast() {
		t.Error("target with roles should not be broadcast")
	}
}

func TestRoomsFor(t *testing.T) {
	teacher := &Identity{ID: TeacherID, Role: RoleTeacher}
	rooms := RoomsFor(teacher)
	if len(rooms) != 1 || rooms[0] != RoomTeacher {
		t.Errorf("teacher rooms = %v, want [%s]", rooms, RoomTeacher)
	}

	ungrouped := &Identity{ID: "p1", Role: RoleStudent, StudentNo: 5}
	rooms = RoomsFor(ungrouped)
	want := []string{"student:p1", RoomAllStudents}
	if len(rooms) != len(want) {
		t.Fatalf("ungrouped rooms = %v, want %v", rooms, want)
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Errorf("room[%d] = %q, want %q", i, rooms[i], want[i])
		}
	}

	grouped := &Identity{ID: "p2", Role: RoleStudent, StudentNo: 6, GroupID: 3, RoleInGroup: 2}
	rooms = RoomsFor(grouped)
	want = []string{"student:p2", RoomAllStudents, "group:3", "role:3:2"}
	if len(rooms) != len(want) {
		t.Fatalf("grouped rooms = %v, want %v", rooms, want)
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Errorf("room[%d] = %q, want %q", i, rooms[i], want[i])
		}
	}

	groupedNoRole := &Identity{ID: "p3", Role: RoleStudent, StudentNo: 7, GroupID: 4}
	rooms = RoomsFor(groupedNoRole)
	if len(rooms) != 3 {
		t.Errorf("grouped-without-role rooms = %v, want personal, audience, group", rooms)
	}
}

func TestRoomNames(t *testing.T) {
	if got := RoomForStudent("abc"); got != "student:abc" {
		t.Errorf("RoomForStudent = %q", got)
	}
	if got := RoomForGroup(12); got != "group:12" {
		t.Errorf("RoomForGroup = %q", got)
	}
	if got := RoomForRole(12, 3); got != "role:12:3" {
		t.Errorf("RoomForRole = %q", got)
	}
}

func TestIdentity_IsTeacher(t *testing.T) {
	if !(&Identity{ID: TeacherID, Role: RoleTeacher}).IsTeacher() {
		t.Error("teacher identity should report IsTeacher")
	}
	if (&Identity{ID: "p1", Role: RoleStudent}).IsTeacher() {
		t.Error("student identity should not report IsTeacher")
	}
}

func TestOutbound_TeacherOmitsFrom(t *testing.T) {
	out := Outbound{EventType: TypeDispatch, MessageType: "task", At: 1234}
	data, err := json.Marshal(&out)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if bytes.Contains(data, []byte(`"from"`)) {
		t.Errorf("teacher-authored outbound should omit from field: %s", data)
	}
}
