// This file implements a PostgreSQL-backed store for sessions and clients.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE phone_number = $1`, phone)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get session for %s: %w", phone, err)
	}
	return sess, nil
}

func (s *PostgresStore) InsertSessionIfAbsent(ctx context.Context, sess *models.Session) (bool, error) {
	raw, err := encodeHistory(sess.History)
	if err != nil {
		return false, err
	}
	var clientID string
	if sess.ClientID != nil {
		clientID = *sess.ClientID
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (phone_number, client_id, last_messages, message_count, last_interaction, created_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		 ON CONFLICT (phone_number) DO NOTHING`,
		sess.PhoneNumber, nilIfEmpty(clientID), raw, sess.MessageCount, sess.LastInteraction, sess.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore InsertSessionIfAbsent failed", "error", err, "phone", sess.PhoneNumber)
		return false, fmt.Errorf("failed to insert session for %s: %w", sess.PhoneNumber, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inserted session rows: %w", err)
	}
	slog.Debug("PostgresStore InsertSessionIfAbsent", "phone", sess.PhoneNumber, "created", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	raw, err := encodeHistory(sess.History)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_messages = $1::jsonb, message_count = $2, last_interaction = $3 WHERE phone_number = $4`,
		raw, sess.MessageCount, sess.LastInteraction, sess.PhoneNumber,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "phone", sess.PhoneNumber)
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

func (s *PostgresStore) SetSessionClient(ctx context.Context, phone, clientID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET client_id = $1 WHERE phone_number = $2`, nilIfEmpty(clientID), phone)
	if err != nil {
		slog.Error("PostgresStore SetSessionClient failed", "error", err, "phone", phone)
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

func (s *PostgresStore) FindClientByPhones(ctx context.Context, phones []string) (*models.ClientRecord, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE phone IN (` + placeholders(len(phones), true) + `) ORDER BY id LIMIT 1`
	c, err := scanClient(s.db.QueryRowContext(ctx, query, stringArgs(phones)...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindClientByPhones failed", "error", err, "candidates", len(phones))
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpsertClient(ctx context.Context, c models.ClientRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, first_name, last_name, phone, tier, total_spent, last_visit, visit_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = EXCLUDED.first_name,
		   last_name = EXCLUDED.last_name,
		   phone = EXCLUDED.phone,
		   tier = EXCLUDED.tier,
		   total_spent = EXCLUDED.total_spent,
		   last_visit = EXCLUDED.last_visit,
		   visit_count = EXCLUDED.visit_count`,
		c.ID, nilIfEmpty(c.FirstName), nilIfEmpty(c.LastName), c.Phone, nilIfEmpty(c.Tier), c.TotalSpent, nullTime(c.LastVisit), c.VisitCount,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertClient failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
