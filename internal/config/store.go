package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fieldwatch/wkauth/internal/model"
)

// Supported store dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Store persists owners, API keys, and integration clients. SQLite is the
// default backend; Postgres and MySQL are supported for shared deployments.
type Store struct {
	db      *sqlx.DB
	dialect string
}

// NewStore opens a SQLite store under dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "wkauth.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open(DialectSQLite, dsn)
}

// Open connects to the store for the given dialect and applies migrations.
func Open(dialect, dsn string) (*Store, error) {
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
	case DialectPostgres:
		driverName = "pgx"
	case DialectMySQL:
		driverName = "mysql"
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Timestamps must scan into time.Time.
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", dialect)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if dialect == DialectSQLite {
		// One connection serializes writers and makes transactions act as
		// row locks for secret rotation.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}

// ---------------------------------------------------------------------------
// Owners
// ---------------------------------------------------------------------------

// CreateOwner inserts a new owner. ID and CreatedAt are populated if unset.
func (s *Store) CreateOwner(ctx context.Context, o *model.Owner) error {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO owners (id, email, name, is_active, is_admin, created_at)
		VALUES (:id, :email, :name, :is_active, :is_admin, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, o); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

// GetOwner returns an owner by ID.
func (s *Store) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	var o model.Owner
	if err := s.db.GetContext(ctx, &o, s.db.Rebind("SELECT * FROM owners WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &o, nil
}

// GetOwnerByEmail returns an owner by email address.
func (s *Store) GetOwnerByEmail(ctx context.Context, email string) (*model.Owner, error) {
	var o model.Owner
	if err := s.db.GetContext(ctx, &o, s.db.Rebind("SELECT * FROM owners WHERE email = ?"), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get owner by email: %w", err)
	}
	return &o, nil
}

// ListOwners returns all owners ordered by email.
func (s *Store) ListOwners(ctx context.Context) ([]model.Owner, error) {
	var owners []model.Owner
	if err := s.db.SelectContext(ctx, &owners, "SELECT * FROM owners ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

// SetOwnerActive enables or disables an owner.
func (s *Store) SetOwnerActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE owners SET is_active = ? WHERE id = ?"), active, id)
	if err != nil {
		return fmt.Errorf("update owner: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update owner rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. KeyHash, Prefix, and Last4 must
// already be set. ID and CreatedAt are populated if unset.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = newID()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO api_keys
		(id, owner_id, name, key_hash, prefix, last4, scope, created_at, expires_at, revoked_at, last_used_at)
		VALUES
		(:id, :owner_id, :name, :key_hash, :prefix, :last4, :scope, :created_at, :expires_at, :revoked_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.db.Rebind("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// FindAPIKeyCandidates returns every key sharing the given prefix and last4,
// revoked and expired ones included, in insertion order.
func (s *Store) FindAPIKeyCandidates(ctx context.Context, prefix, last4 string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE prefix = ? AND last4 = ? ORDER BY created_at, id")
	if err := s.db.SelectContext(ctx, &keys, q, prefix, last4); err != nil {
		return nil, fmt.Errorf("find api key candidates: %w", err)
	}
	return keys, nil
}

// ListAPIKeys returns all API keys, newest first. An empty ownerID lists
// keys of every owner.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	var err error
	if ownerID == "" {
		err = s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &keys,
			s.db.Rebind("SELECT * FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC"), ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey sets revoked_at on a key that is not yet revoked. It reports
// whether this call performed the revocation; false means the key was
// already revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL"), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// TouchAPIKeyLastUsed sets last_used_at to at, but only when it is unset or
// older than cutoff. It reports whether a row was written.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string, at, cutoff time.Time) (bool, error) {
	const q = `UPDATE api_keys SET last_used_at = ?
		WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), at.UTC(), id, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("touch api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch api key rows affected: %w", err)
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Integration clients
// ---------------------------------------------------------------------------

// CreateClient inserts a new integration client. ID, ClientID, and the
// timestamps are populated if unset.
func (s *Store) CreateClient(ctx context.Context, c *model.IntegrationClient) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.ClientID == "" {
		c.ClientID = uuid4()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	const q = `INSERT INTO integration_clients
		(id, name, client_id, secret, previous_secret, previous_expires_at, rotated_at, is_active, created_at, updated_at)
		VALUES
		(:id, :name, :client_id, :secret, :previous_secret, :previous_expires_at, :rotated_at, :is_active, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, c); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert integration client: %w", err)
	}
	return nil
}

// GetClient returns an integration client by its row ID.
func (s *Store) GetClient(ctx context.Context, id string) (*model.IntegrationClient, error) {
	return s.getClient(ctx, "id", id)
}

// GetClientByClientID returns an integration client by its wire identifier.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*model.IntegrationClient, error) {
	return s.getClient(ctx, "client_id", clientID)
}

func (s *Store) getClient(ctx context.Context, column, value string) (*model.IntegrationClient, error) {
	var c model.IntegrationClient
	q := s.db.Rebind("SELECT * FROM integration_clients WHERE " + column + " = ?")
	if err := s.db.GetContext(ctx, &c, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get integration client: %w", err)
	}
	return &c, nil
}

// ListClients returns all integration clients ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]model.IntegrationClient, error) {
	var clients []model.IntegrationClient
	if err := s.db.SelectContext(ctx, &clients, "SELECT * FROM integration_clients ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list integration clients: %w", err)
	}
	return clients, nil
}

// UpdateClientLocked loads the client row under a write lock, lets fn mutate
// it, and writes back the mutable columns in the same transaction. On
// Postgres and MySQL the lock is SELECT ... FOR UPDATE; on SQLite the single
// connection serializes callers. fn must not use the Store.
func (s *Store) UpdateClientLocked(ctx context.Context, id string, fn func(c *model.IntegrationClient) error) (*model.IntegrationClient, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := "SELECT * FROM integration_clients WHERE id = ?"
	if s.dialect != DialectSQLite {
		q += " FOR UPDATE"
	}

	var c model.IntegrationClient
	if err := tx.GetContext(ctx, &c, tx.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock integration client: %w", err)
	}

	if err := fn(&c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()

	const upd = `UPDATE integration_clients SET
		name = :name, secret = :secret, previous_secret = :previous_secret,
		previous_expires_at = :previous_expires_at, rotated_at = :rotated_at,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, upd, &c); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update integration client: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit integration client: %w", err)
	}
	return &c, nil
}

// PurgeExpiredPrevious clears previous secrets whose overlap window ended
// before now. It returns the number of clients cleaned.
func (s *Store) PurgeExpiredPrevious(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE integration_clients
		SET previous_secret = NULL, previous_expires_at = NULL
		WHERE previous_expires_at IS NOT NULL AND previous_expires_at <= ?`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge previous secrets: %w", err)
	}
	return result.RowsAffected()
}
