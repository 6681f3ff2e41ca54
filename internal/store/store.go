package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/config"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Store is the durable message store: append-only message records plus the
// participant table the identity resolver reads and writes. All writes go
// through a single goroutine so SQLite never sees write contention; reads
// run concurrently on the connection pool.
type Store struct {
	db      *sql.DB
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens (creating if necessary) the SQLite store at cfg.Path.
func Open(cfg *config.StoreConfig, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		writeCh: make(chan writeOp, 100),
		done:    make(chan struct{}),
		log:     logger.With().Str("comp", "store").Logger(),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop serializes all writes. Failures are reported to the caller and
// logged; there is no retry, a lost append is a silent durability gap by
// contract.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.fn(s.db)
			if err != nil {
				s.log.Error().Err(err).Msg("write failed")
			}
			op.result <- err
		case <-s.done:
			return
		}
	}
}

func (s *Store) executeWrite(fn func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return event.ErrStoreUnavailable
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write queue timeout", event.ErrStoreUnavailable)
	case <-s.done:
		return event.ErrStoreUnavailable
	}
}

// AppendMessage persists one message record. CreatedAt must already carry
// the server-assigned timestamp; the store assigns the id.
func (s *Store) AppendMessage(ctx context.Context, msg *event.Message) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (from_id, to_id, event_type, message_type, activity_scope, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.FromID,
			msg.ToID,
			msg.EventType,
			msg.MessageType,
			msg.ActivityScope,
			msg.Payload,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			msg.ID = id
		}
		return nil
	})
}

// Filter selects message rows. Zero-value fields are not applied. When both
// ToID and ToNull are set the two match as a union, so a query for a
// participant's received messages also sees whole-audience rows.
type Filter struct {
	FromID        string
	ToID          string
	ToNull        bool // rows whose to_id is NULL (teacher inbox / broadcasts)
	EventType     string
	MessageType   string
	ActivityScope string
}

// QueryMessages returns matching rows newest first (created_at DESC, id
// DESC) so a single forward scan keeping the first row per key yields the
// latest-wins collapse.
func (s *Store) QueryMessages(ctx context.Context, f Filter) ([]*event.Message, error) {
	var conds []string
	var args []any

	if f.FromID != "" {
		conds = append(conds, "from_id = ?")
		args = append(args, f.FromID)
	}
	switch {
	case f.ToID != "" && f.ToNull:
		conds = append(conds, "(to_id = ? OR to_id IS NULL)")
		args = append(args, f.ToID)
	case f.ToID != "":
		conds = append(conds, "to_id = ?")
		args = append(args, f.ToID)
	case f.ToNull:
		conds = append(conds, "to_id IS NULL")
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.MessageType != "" {
		conds = append(conds, "message_type = ?")
		args = append(args, f.MessageType)
	}
	if f.ActivityScope != "" {
		conds = append(conds, "activity_scope = ?")
		args = append(args, f.ActivityScope)
	}

	query := "SELECT id, from_id, to_id, event_type, message_type, activity_scope, payload, created_at FROM messages"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", event.ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*event.Message
	for rows.Next() {
		var msg event.Message
		var fromID, toID sql.NullString
		if err := rows.Scan(&msg.ID, &fromID, &toID, &msg.EventType, &msg.MessageType,
			&msg.ActivityScope, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if fromID.Valid {
			msg.FromID = &fromID.String
		}
		if toID.Valid {
			msg.ToID = &toID.String
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// Reset removes every message record. Teacher-initiated bulk clear; the
// participant table is untouched so identities stay stable across resets.
func (s *Store) Reset(ctx context.Context) error {
	return s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM messages"); err != nil {
			return fmt.Errorf("failed to reset messages: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM participants").Scan(&n); err != nil {
		return fmt.Errorf("store read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
