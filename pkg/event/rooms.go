package event

import "fmt"

// Room names. A connection's room set is computed once at connect time from
// its identity and never changes mid-connection.
const (
	RoomTeacher     = "teacher"
	RoomAllStudents = "student"
)

// RoomForStudent names the personal room of a participant.
func RoomForStudent(participantID string) string {
	return "student:" + participantID
}

// RoomForGroup names the room shared by a small group.
func RoomForGroup(groupID int) string {
	return fmt.Sprintf("group:%d", groupID)
}

// RoomForRole names the room for a role slot within a group.
func RoomForRole(groupID, role int) string {
	return fmt.Sprintf("role:%d:%d", groupID, role)
}

// RoomsFor computes the full room set for an identity. The teacher occupies
// only the singleton teacher room; students always occupy their personal
// room and the all-students room, plus group and role rooms when grouped.
func RoomsFor(id *Identity) []string {
	if id.IsTeacher() {
		return []string{RoomTeacher}
	}
	rooms := []string{RoomForStudent(id.ID), RoomAllStudents}
	if id.GroupID > 0 {
		rooms = append(rooms, RoomForGroup(id.GroupID))
		if id.RoleInGroup > 0 {
			rooms = append(rooms, RoomForRole(id.GroupID, id.RoleInGroup))
		}
	}
	return rooms
}
