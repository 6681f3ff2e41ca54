package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/pkg/event"
)

// Conn is the slice of a transport connection the registry needs. Send must
// be safe to call from any goroutine and must never block the caller.
type Conn interface {
	ID() string
	Identity() *event.Identity
	Send(v any) error
	Close() error
}

// Registry owns the in-memory connection/room state. Room membership is
// computed once at connect time and never changes mid-connection; at most
// one live connection exists per identity, a second connect supersedes the
// first. All mutations happen on the hub's event loop; the mutex exists for
// the read paths (stats, room snapshots) reachable from other goroutines.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Conn            // connection id -> conn
	rooms   map[string]map[string]Conn // room -> connection id -> conn
	byIdent map[string]Conn            // eviction key -> conn
	teacher Conn                       // singleton teacher slot
	log     zerolog.Logger
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		rooms:   make(map[string]map[string]Conn),
		byIdent: make(map[string]Conn),
		log:     logger.With().Str("comp", "registry").Logger(),
	}
}

// evictionKey collapses connections that must not coexist onto one key:
// the teacher slot, a student's participant id, or the group+role slot for
// role-scoped identities without a student number.
func evictionKey(id *event.Identity) string {
	if id.IsTeacher() {
		return event.TeacherID
	}
	if id.StudentNo == 0 && id.GroupID > 0 && id.RoleInGroup > 0 {
		return fmt.Sprintf("role:%d:%d", id.GroupID, id.RoleInGroup)
	}
	return id.ID
}

// Connect admits a connection, first superseding any live connection for
// the same identity. The evicted transport is told why before its close is
// requested; close itself is fire-and-forget. After admission a student
// connect is announced to the teacher room.
func (r *Registry) Connect(conn Conn) error {
	if conn == nil {
		return ErrNilConnection
	}
	identity := conn.Identity()
	if identity == nil {
		return ErrNoIdentity
	}

	r.mu.Lock()
	key := evictionKey(identity)
	if old, exists := r.byIdent[key]; exists && old.ID() != conn.ID() {
		r.evictLocked(old)
	}
	if identity.IsTeacher() {
		r.teacher = conn
	}
	r.byIdent[key] = conn
	r.conns[conn.ID()] = conn
	for _, room := range event.RoomsFor(identity) {
		if r.rooms[room] == nil {
			r.rooms[room] = make(map[string]Conn)
		}
		r.rooms[room][conn.ID()] = conn
	}
	r.mu.Unlock()

	r.log.Info().
		Str("conn", conn.ID()).
		Str("participant", identity.ID).
		Str("role", identity.Role).
		Msg("connection admitted")

	if !identity.IsTeacher() {
		r.notifyTeacher(event.TypeStudentOnline, identity)
	}
	return nil
}

// evictLocked removes a superseded connection and signals it. The transport
// layer guarantees no further events are delivered for it once its close is
// requested.
func (r *Registry) evictLocked(old Conn) {
	r.removeLocked(old)
	_ = old.Send(&event.Outbound{
		EventType: event.TypeSuperseded,
		At:        time.Now().UnixMilli(),
	})
	go func() { _ = old.Close() }()
	r.log.Info().Str("conn", old.ID()).Msg("connection superseded")
}

// Disconnect removes a connection. Idempotent and stale-safe: a connection
// that was already superseded does not disturb its replacement. A student
// departure is announced to the teacher room.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	conn, exists := r.conns[connID]
	if !exists {
		r.mu.Unlock()
		return
	}
	identity := conn.Identity()
	r.removeLocked(conn)
	r.mu.Unlock()

	r.log.Info().Str("conn", connID).Str("participant", identity.ID).Msg("connection removed")

	if !identity.IsTeacher() {
		r.notifyTeacher(event.TypeStudentOffline, identity)
	}
}

func (r *Registry) removeLocked(conn Conn) {
	identity := conn.Identity()
	delete(r.conns, conn.ID())

	key := evictionKey(identity)
	if current, ok := r.byIdent[key]; ok && current.ID() == conn.ID() {
		delete(r.byIdent, key)
	}
	if r.teacher != nil && r.teacher.ID() == conn.ID() {
		r.teacher = nil
	}
	for _, room := range event.RoomsFor(identity) {
		if members, ok := r.rooms[room]; ok {
			delete(members, conn.ID())
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
}

// notifyTeacher delivers a side-channel presence notice to the teacher
// room. This is the only place state changes are broadcast rather than
// routed by explicit recipient.
func (r *Registry) notifyTeacher(eventType string, identity *event.Identity) {
	r.mu.RLock()
	teacher := r.teacher
	r.mu.RUnlock()
	if teacher == nil {
		return
	}
	notice := map[string]any{
		"studentId":   identity.ID,
		"studentNo":   identity.StudentNo,
		"groupId":     identity.GroupID,
		"roleInGroup": identity.RoleInGroup,
		"timestamp":   time.Now().UnixMilli(),
	}
	if err := teacher.Send(&event.Outbound{EventType: eventType, At: time.Now().UnixMilli(), Payload: mustJSON(notice)}); err != nil {
		r.log.Warn().Err(err).Str("event", eventType).Msg("presence notice dropped")
	}
}

// ResolveRooms maps a fan-out target to concrete room names. Precedence is
// explicit participants, then groups, then roles, then the whole audience.
// Submit always resolves to the teacher room regardless of target.
func (r *Registry) ResolveRooms(eventType string, target *event.Target) []string {
	if eventType == event.TypeSubmit {
		return []string{event.RoomTeacher}
	}
	if target != nil {
		if len(target.ParticipantIDs) > 0 {
			rooms := make([]string, 0, len(target.ParticipantIDs))
			for _, id := range target.ParticipantIDs {
				rooms = append(rooms, event.RoomForStudent(id))
			}
			return rooms
		}
		if len(target.GroupIDs) > 0 {
			rooms := make([]string, 0, len(target.GroupIDs))
			for _, gid := range target.GroupIDs {
				rooms = append(rooms, event.RoomForGroup(gid))
			}
			return rooms
		}
		if len(target.Roles) > 0 {
			rooms := make([]string, 0, len(target.Roles))
			for _, ref := range target.Roles {
				rooms = append(rooms, event.RoomForRole(ref.GroupID, ref.Role))
			}
			return rooms
		}
	}
	return []string{event.RoomAllStudents}
}

// Emit delivers one copy of v to every connection in the union of the given
// rooms. Overlapping membership dedupes naturally by connection id. Returns
// the number of connections reached.
func (r *Registry) Emit(rooms []string, v any) int {
	r.mu.RLock()
	seen := make(map[string]Conn)
	for _, room := range rooms {
		for id, conn := range r.rooms[room] {
			seen[id] = conn
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for id, conn := range seen {
		if err := conn.Send(v); err != nil {
			r.log.Warn().Err(err).Str("conn", id).Msg("emission dropped")
			continue
		}
		delivered++
	}
	return delivered
}

// Teacher returns the current teacher connection, if any.
func (r *Registry) Teacher() (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teacher, r.teacher != nil
}

// Get returns a registered connection by transport id.
func (r *Registry) Get(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Stats reports connection and room counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.conns),
		"rooms":       len(r.rooms),
	}
}
