// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message/delivery persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

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

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			target TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'active'
		);

		CREATE INDEX IF NOT EXISTS idx_messages_created
			ON messages(created_at);

		CREATE TABLE IF NOT EXISTS deliveries (
			message_seq INTEGER NOT NULL,
			consumer_id TEXT NOT NULL,
			delivered_at DATETIME,
			PRIMARY KEY (message_seq, consumer_id),
			FOREIGN KEY (message_seq) REFERENCES messages(seq) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_consumer
			ON deliveries(consumer_id, delivered_at);

		CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveMessage persists a message and its recipient rows in one transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message, recipients []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sender, target, payload, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Target, msg.Payload, msg.CreatedAt.UTC(), StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message sequence: %w", err)
	}

	for _, consumer := range recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (message_seq, consumer_id) VALUES (?, ?)`,
			seq, consumer,
		); err != nil {
			return 0, fmt.Errorf("inserting delivery for %s: %w", consumer, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (name, value) VALUES ('messages_total', 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`,
	); err != nil {
		return 0, fmt.Errorf("updating counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	msg.Status = StatusActive
	return seq, nil
}

// PollMessages returns undelivered messages for the consumer and marks
// them delivered atomically with the read. Re-polling with the same
// cursor never returns the same (message, consumer) pair twice.
func (s *SQLiteStore) PollMessages(ctx context.Context, consumerID string, since int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT m.seq, m.id, m.sender, m.target, m.payload, m.created_at, m.status
		 FROM messages m
		 JOIN deliveries d ON d.message_seq = m.seq
		 WHERE d.consumer_id = ? AND m.seq > ? AND d.delivered_at IS NULL AND m.status = ?
		 ORDER BY m.seq ASC
		 LIMIT ?`,
		consumerID, since, StatusActive, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, msg := range messages {
		if _, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET delivered_at = ? WHERE message_seq = ? AND consumer_id = ?`,
			now, msg.Seq, consumerID,
		); err != nil {
			return nil, fmt.Errorf("marking delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing poll: %w", err)
	}

	return messages, nil
}

// ExpireBefore marks messages with pending deliveries as undelivered and
// prunes fully delivered messages older than the cutoff.
func (s *SQLiteStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT m.seq, m.id, m.sender, m.target, m.payload, m.created_at, m.status
		 FROM messages m
		 WHERE m.created_at < ? AND m.status = ?
		   AND EXISTS (
		     SELECT 1 FROM deliveries d
		     WHERE d.message_seq = m.seq AND d.delivered_at IS NULL
		   )
		 ORDER BY m.seq ASC`,
		cutoff.UTC(), StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired messages: %w", err)
	}

	expired, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for _, msg := range expired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ? WHERE seq = ?`,
			StatusUndelivered, msg.Seq,
		); err != nil {
			return nil, fmt.Errorf("marking message undelivered: %w", err)
		}
		msg.Status = StatusUndelivered
	}

	// Fully delivered messages past the window are pruned outright
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE created_at < ? AND status = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM deliveries d
		     WHERE d.message_seq = messages.seq AND d.delivered_at IS NULL
		   )`,
		cutoff.UTC(), StatusActive,
	); err != nil {
		return nil, fmt.Errorf("pruning delivered messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing expiry: %w", err)
	}

	return expired, nil
}

// RecentMessages returns the most recent messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, sender, target, payload, created_at, status
		 FROM messages
		 ORDER BY seq DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}

	return scanMessages(rows)
}

// CountMessages returns the lifetime routed-message total and the number
// currently marked undelivered.
func (s *SQLiteStore) CountMessages(ctx context.Context) (total, undelivered int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT value FROM counters WHERE name = 'messages_total'), 0)`,
	).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status = ?`, StatusUndelivered,
	).Scan(&undelivered)
	if err != nil {
		return 0, 0, fmt.Errorf("counting undelivered: %w", err)
	}

	return total, undelivered, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanMessages drains a message result set, closing the rows.
func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.Sender, &msg.Target, &msg.Payload, &msg.CreatedAt, &msg.Status); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
