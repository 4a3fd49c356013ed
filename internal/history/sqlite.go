package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/civicworks/copilot/pkg/models"
)

// SQLiteStore is a durable Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			seq INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Name implements Store.
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return &PersistenceError{Op: "append", Cause: errNilMessage}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return &PersistenceError{Op: "append", Cause: err}
		}
	}

	// seq preserves append order even when two messages share a timestamp.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?))
	`, msg.ID, sessionID, string(msg.Role), msg.Content, metadata, msg.CreatedAt, sessionID)
	if err != nil {
		return &PersistenceError{Op: "append", Cause: err}
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		// The most recent limit messages, still returned oldest-first.
		query = `
			SELECT id, role, content, metadata, created_at FROM (
				SELECT id, role, content, metadata, created_at, seq
				FROM messages
				WHERE session_id = ?
				ORDER BY seq DESC
				LIMIT ?
			) ORDER BY seq ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Cause: err}
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			msg      models.Message
			role     string
			metadata sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "list", Cause: err}
		}
		msg.SessionID = sessionID
		msg.Role = models.Role(role)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, &PersistenceError{Op: "list", Cause: err}
			}
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Cause: err}
	}
	if out == nil {
		out = []*models.Message{}
	}
	return out, nil
}
