// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// SQLite's built-in lower() only folds ASCII, so search uses fold_text,
// which applies the same Unicode fold as foldText in Go.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold_text", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return foldText(v), nil
			case []byte:
				return foldText(string(v)), nil
			case nil:
				return nil, nil
			default:
				return v, nil
			}
		})
}

// timeLayout is fixed-width RFC3339 with nanoseconds so stored text sorts
// in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes
	// writers, which SQLite does anyway.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL DEFAULT 'New Conversation',
			doctor_language  TEXT NOT NULL DEFAULT 'en',
			patient_language TEXT NOT NULL DEFAULT 'es',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
			id                   TEXT NOT NULL UNIQUE,
			conversation_id      TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role                 TEXT NOT NULL,
			original_text        TEXT NOT NULL DEFAULT '',
			translated_text      TEXT NOT NULL DEFAULT '',
			original_language    TEXT NOT NULL,
			translated_language  TEXT NOT NULL,
			audio_url            TEXT,
			translated_audio_url TEXT,
			timestamp            TEXT NOT NULL,

			CHECK (role IN ('doctor', 'patient'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, timestamp, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "translated_audio_url",
			apply:  `ALTER TABLE messages ADD COLUMN translated_audio_url TEXT`,
		},
		{
			table:  "messages",
			column: "audio_url",
			apply:  `ALTER TABLE messages ADD COLUMN audio_url TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, title, doctor_language, patient_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Title,
		conv.DoctorLanguage,
		conv.PatientLanguage,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID)
	return nil
}

// GetConversation retrieves a conversation by ID with its message count.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT c.id, c.title, c.doctor_language, c.patient_language, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.title, c.doctor_language, c.patient_language, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]*Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// RenameConversation sets a new title and advances updated_at. An empty
// title keeps the current one. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string, at time.Time) (*Conversation, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = COALESCE(NULLIF(?, ''), title), updated_at = ? WHERE id = ?`,
		title, formatTime(at), id,
	)
	if err != nil {
		return nil, fmt.Errorf("renaming conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("renamed conversation", "id", id)
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and, through the foreign key
// cascade, all of its messages.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Explicit delete so the cascade holds even on databases opened
	// without foreign key enforcement.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// CreateMessage inserts a message and touches its conversation's updated_at
// in a single transaction. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(msg.Timestamp)

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		ts, msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, original_text, translated_text,
		                      original_language, translated_language, audio_url, translated_audio_url, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.OriginalText,
		msg.TranslatedText,
		msg.OriginalLanguage,
		msg.TranslatedLanguage,
		nullString(msg.AudioURL),
		nullString(msg.TranslatedAudioURL),
		ts,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessage retrieves a single message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, conversation_id, role, original_text, translated_text,
		       original_language, translated_language, audio_url, translated_audio_url, timestamp
		FROM messages
		WHERE id = ?
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages in chronological order
// (oldest first). An unknown conversation yields an empty slice.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, original_text, translated_text,
		       original_language, translated_language, audio_url, translated_audio_url, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// SearchMessages finds messages whose original or translated text contains
// query (case-insensitive), newest first. Each result carries the original
// text of its chronological neighbours within the same conversation.
// If limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	pattern := "%" + escapeLike(query) + "%"

	// Window functions give each message's neighbours in one pass; the
	// outer query filters after the windows are computed.
	sqlQuery := `
		SELECT conversation_id, title, id, role, original_text, translated_text, timestamp,
		       COALESCE(prev_text, ''), COALESCE(next_text, '')
		FROM (
			SELECT m.conversation_id, c.title, m.id, m.role, m.original_text, m.translated_text,
			       m.timestamp, m.seq,
			       LAG(m.original_text)  OVER w AS prev_text,
			       LEAD(m.original_text) OVER w AS next_text
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WINDOW w AS (PARTITION BY m.conversation_id ORDER BY m.timestamp, m.seq)
		)
		WHERE fold_text(original_text) LIKE fold_text(?) ESCAPE '\'
		   OR fold_text(translated_text) LIKE fold_text(?) ESCAPE '\'
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, sqlQuery, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	results := make([]*SearchResult, 0)
	for rows.Next() {
		var r SearchResult
		var ts string
		if err := rows.Scan(
			&r.ConversationID,
			&r.ConversationTitle,
			&r.MessageID,
			&r.Role,
			&r.OriginalText,
			&r.TranslatedText,
			&ts,
			&r.ContextBefore,
			&r.ContextAfter,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		r.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	return results, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&conv.ID,
		&conv.Title,
		&conv.DoctorLanguage,
		&conv.PatientLanguage,
		&createdAtStr,
		&updatedAtStr,
		&conv.MessageCount,
	); err != nil {
		return nil, err
	}

	var err error
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var audioURL, translatedAudioURL sql.NullString
	var ts string

	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Role,
		&msg.OriginalText,
		&msg.TranslatedText,
		&msg.OriginalLanguage,
		&msg.TranslatedLanguage,
		&audioURL,
		&translatedAudioURL,
		&ts,
	); err != nil {
		return nil, err
	}

	// Handle nullable fields
	if audioURL.Valid {
		msg.AudioURL = &audioURL.String
	}
	if translatedAudioURL.Valid {
		msg.TranslatedAudioURL = &translatedAudioURL.String
	}

	var err error
	msg.Timestamp, err = parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("parsing message timestamp: %w", err)
	}

	return &msg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString returns nil for nil or empty strings, otherwise the value
func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// foldText is the case fold applied to both sides of a search match.
func foldText(s string) string {
	return strings.ToLower(s)
}

// escapeLike escapes LIKE wildcards so user input matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
