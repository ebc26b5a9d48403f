// This file implements an SQLite-backed store for sessions and clients.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serialises writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE phone_number = ?`, phone)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get session for %s: %w", phone, err)
	}
	return sess, nil
}

func (s *SQLiteStore) InsertSessionIfAbsent(ctx context.Context, sess *models.Session) (bool, error) {
	raw, err := encodeHistory(sess.History)
	if err != nil {
		return false, err
	}
	var clientID string
	if sess.ClientID != nil {
		clientID = *sess.ClientID
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (phone_number, client_id, last_messages, message_count, last_interaction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.PhoneNumber, nilIfEmpty(clientID), raw, sess.MessageCount, sess.LastInteraction, sess.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore InsertSessionIfAbsent failed", "error", err, "phone", sess.PhoneNumber)
		return false, fmt.Errorf("failed to insert session for %s: %w", sess.PhoneNumber, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inserted session rows: %w", err)
	}
	slog.Debug("SQLiteStore InsertSessionIfAbsent", "phone", sess.PhoneNumber, "created", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	raw, err := encodeHistory(sess.History)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_messages = ?, message_count = ?, last_interaction = ? WHERE phone_number = ?`,
		raw, sess.MessageCount, sess.LastInteraction, sess.PhoneNumber,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "phone", sess.PhoneNumber)
		return fmt.Errorf("failed to update session for %s: %w", sess.PhoneNumber, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated session rows: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) SetSessionClient(ctx context.Context, phone, clientID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET client_id = ? WHERE phone_number = ?`, nilIfEmpty(clientID), phone)
	if err != nil {
		slog.Error("SQLiteStore SetSessionClient failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to link session %s: %w", phone, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check linked session rows: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) FindClientByPhones(ctx context.Context, phones []string) (*models.ClientRecord, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE phone IN (` + placeholders(len(phones), false) + `) ORDER BY id LIMIT 1`
	c, err := scanClient(s.db.QueryRowContext(ctx, query, stringArgs(phones)...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindClientByPhones failed", "error", err, "candidates", len(phones))
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpsertClient(ctx context.Context, c models.ClientRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, first_name, last_name, phone, tier, total_spent, last_visit, visit_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   phone = excluded.phone,
		   tier = excluded.tier,
		   total_spent = excluded.total_spent,
		   last_visit = excluded.last_visit,
		   visit_count = excluded.visit_count`,
		c.ID, nilIfEmpty(c.FirstName), nilIfEmpty(c.LastName), c.Phone, nilIfEmpty(c.Tier), c.TotalSpent, nullTime(c.LastVisit), c.VisitCount,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertClient failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
