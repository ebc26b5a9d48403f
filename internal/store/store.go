// Package store provides storage backends for ReplyPipe.
//
// It persists conversation sessions, reads customer records, and keeps the
// inbound message dedup log. Backends are SQLite (default for file paths),
// PostgreSQL, and an in-memory store for tests and ephemeral runs. The store
// is the only layer that translates loosely typed rows into models types.
package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// SessionRepo persists per-phone conversation sessions.
type SessionRepo interface {
	// GetSession returns the session for phone, or nil when none exists.
	GetSession(ctx context.Context, phone string) (*models.Session, error)

	// InsertSessionIfAbsent inserts s unless a row for s.PhoneNumber already
	// exists. It reports whether this call created the row.
	InsertSessionIfAbsent(ctx context.Context, s *models.Session) (bool, error)

	// UpdateSession writes history, message count and last interaction of s in
	// a single statement. Returns models.ErrSessionNotFound when no row exists.
	UpdateSession(ctx context.Context, s *models.Session) error

	// SetSessionClient links a session to a client record.
	// Returns models.ErrSessionNotFound when no row exists.
	SetSessionClient(ctx context.Context, phone, clientID string) error
}

// ClientRepo reads customer records.
type ClientRepo interface {
	// FindClientByPhones returns the first client whose stored phone equals
	// any of phones, or nil when none matches.
	FindClientByPhones(ctx context.Context, phones []string) (*models.ClientRecord, error)

	// UpsertClient inserts or replaces a client record keyed by ID.
	UpsertClient(ctx context.Context, c models.ClientRecord) error
}

// Store is the full persistence surface used by ReplyPipe.
type Store interface {
	SessionRepo
	ClientRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the connection string; the backend is detected from it.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(path string) Option {
	return WithDSN(path)
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	// key=value DSNs without a host still name at least two settings.
	if strings.Count(dsn, "=") >= 2 && strings.Contains(dsn, " ") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend selected by the configured DSN. Without a DSN an
// in-memory store is returned.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("store.New: no DSN configured, using in-memory store (sessions are lost on restart)")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("store.New: detected PostgreSQL DSN")
		return NewPostgresStore(opts...)
	}
	slog.Debug("store.New: detected SQLite DSN", "path", cfg.DSN)
	return NewSQLiteStore(opts...)
}
