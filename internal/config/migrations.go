package config

import (
	"fmt"
	"strings"
)

// timestampType returns the column type used for timestamps in each dialect.
func (s *Store) timestampType() string {
	switch s.dialect {
	case DialectPostgres:
		return "TIMESTAMPTZ"
	case DialectMySQL:
		return "DATETIME(6)"
	default:
		return "DATETIME"
	}
}

func (s *Store) migrate() error {
	ts := s.timestampType()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(254) UNIQUE NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + ts + ` NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
			name VARCHAR(128) NOT NULL,
			key_hash VARCHAR(255) NOT NULL,
			prefix VARCHAR(32) NOT NULL,
			last4 VARCHAR(4) NOT NULL,
			scope VARCHAR(16) NOT NULL DEFAULT 'read',
			created_at ` + ts + ` NOT NULL,
			expires_at ` + ts + ` NULL,
			revoked_at ` + ts + ` NULL,
			last_used_at ` + ts + ` NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix_last4 ON api_keys(prefix, last4)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id, revoked_at, expires_at)`,

		`CREATE TABLE IF NOT EXISTS integration_clients (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(128) UNIQUE NOT NULL,
			client_id VARCHAR(36) UNIQUE NOT NULL,
			secret VARCHAR(255) NOT NULL,
			previous_secret VARCHAR(255) NULL,
			previous_expires_at ` + ts + ` NULL,
			rotated_at ` + ts + ` NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_integration_clients_active ON integration_clients(client_id, is_active)`,
	}

	for _, m := range migrations {
		if s.dialect == DialectMySQL {
			// MySQL has no CREATE INDEX IF NOT EXISTS; duplicates are
			// ignored below.
			m = strings.Replace(m, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX", 1)
		}
		if _, err := s.db.Exec(m); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// isIgnorableMigrationError treats re-applied column and index additions as
// no-ops so migrations stay idempotent.
func isIgnorableMigrationError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "duplicate key name")
}
