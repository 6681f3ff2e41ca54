package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alinzhou20/miniServer/pkg/event"
)

// GetOrCreateStudent returns the stable identity for a (student, studentNo)
// tuple, creating it on first login. Identity fields are immutable once
// created; a later login with a different group does not rewrite the row,
// since a group change is modeled as a new roster entry upstream.
func (s *Store) GetOrCreateStudent(ctx context.Context, studentNo, groupID, roleInGroup int) (*event.Identity, error) {
	if id, err := s.findStudentByNo(ctx, studentNo); err != nil {
		return nil, err
	} else if id != nil {
		return id, nil
	}

	identity := &event.Identity{
		ID:          uuid.New().String(),
		Role:        event.RoleStudent,
		StudentNo:   studentNo,
		GroupID:     groupID,
		RoleInGroup: roleInGroup,
	}

	err := s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO participants (id, role, student_no, group_id, role_in_group, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(role, student_no) DO NOTHING`,
			identity.ID, identity.Role, identity.StudentNo,
			identity.GroupID, identity.RoleInGroup, time.Now().UnixMilli(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}

	// A concurrent first login may have won the conflict; read back the row
	// that actually exists.
	existing, err := s.findStudentByNo(ctx, studentNo)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("participant %d missing after create", studentNo)
	}
	return existing, nil
}

// FindParticipant returns the identity for an id, or nil when absent.
// Absence is a valid steady state, not an error.
func (s *Store) FindParticipant(ctx context.Context, participantID string) (*event.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, student_no, group_id, role_in_group
		FROM participants WHERE id = ?`, participantID)
	return scanIdentity(row)
}

// ListByGroup returns every student identity in a group, used to expand
// group targets into per-recipient durable records.
func (s *Store) ListByGroup(ctx context.Context, groupID int) ([]*event.Identity, error) {
	return s.listIdentities(ctx, `
		SELECT id, role, student_no, group_id, role_in_group
		FROM participants WHERE group_id = ? AND role = 'student'
		ORDER BY student_no`, groupID)
}

// ListByGroupRole returns the students occupying a role slot within a group.
func (s *Store) ListByGroupRole(ctx context.Context, groupID, role int) ([]*event.Identity, error) {
	return s.listIdentities(ctx, `
		SELECT id, role, student_no, group_id, role_in_group
		FROM participants WHERE group_id = ? AND role_in_group = ? AND role = 'student'
		ORDER BY student_no`, groupID, role)
}

func (s *Store) findStudentByNo(ctx context.Context, studentNo int) (*event.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, student_no, group_id, role_in_group
		FROM participants WHERE role = 'student' AND student_no = ?`, studentNo)
	return scanIdentity(row)
}

func (s *Store) listIdentities(ctx context.Context, query string, args ...any) ([]*event.Identity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", event.ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var identities []*event.Identity
	for rows.Next() {
		var id event.Identity
		if err := rows.Scan(&id.ID, &id.Role, &id.StudentNo, &id.GroupID, &id.RoleInGroup); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		identities = append(identities, &id)
	}
	return identities, rows.Err()
}

func scanIdentity(row *sql.Row) (*event.Identity, error) {
	var id event.Identity
	err := row.Scan(&id.ID, &id.Role, &id.StudentNo, &id.GroupID, &id.RoleInGroup)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return &id, nil
}
