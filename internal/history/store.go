// Package history persists conversations, messages, and admin-taught facts
// in SQLite. The store is append-only: messages and facts are never mutated
// or deleted, and their order is insertion order.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"supportbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore and domain.FactStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and one writer
	// keeps appends to the same conversation ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id        INTEGER PRIMARY KEY,
		platform  TEXT NOT NULL,
		metadata  TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_key ON conversations(platform, metadata);

	CREATE TABLE IF NOT EXISTS messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		convo_id  INTEGER NOT NULL,
		role      TEXT NOT NULL,
		text      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_convo ON messages(convo_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_text ON messages(text);

	CREATE TABLE IF NOT EXISTS facts (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		text  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertConversation creates the conversation row, replacing the metadata
// when the id already exists.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, platform, metadata) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata`,
		conv.ID, string(conv.Platform), conv.Metadata,
	)
	return err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, convoID int64, role domain.Role, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (convo_id, role, text) VALUES (?, ?, ?)`,
		convoID, string(role), text,
	)
	return err
}

// History returns all messages of a conversation in insertion order.
func (s *SQLiteStore) History(ctx context.Context, convoID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT convo_id, role, text FROM messages WHERE convo_id = ? ORDER BY id`,
		convoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ConvoID, &role, &m.Text); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ConversationByText returns the conversation containing a message whose
// text exactly equals the given text. Any difference, even a single
// character, is a miss.
func (s *SQLiteStore) ConversationByText(ctx context.Context, text string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT convo_id FROM messages WHERE text = ? LIMIT 1`, text,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ConversationByKey looks a conversation up by its identity key, e.g. the
// sender address of an email thread.
func (s *SQLiteStore) ConversationByKey(ctx context.Context, platform domain.Platform, key string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE platform = ? AND metadata = ? LIMIT 1`,
		string(platform), key,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *SQLiteStore) AddFact(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO facts (text) VALUES (?)`, text)
	return err
}

// Facts returns all taught facts in insertion order. No dedup.
func (s *SQLiteStore) Facts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text FROM facts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
