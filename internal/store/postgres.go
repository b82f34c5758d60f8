// Package store persists connection metadata in PostgreSQL. Persistence is
// an optional collaborator of the hub; the service runs fully in memory
// when no database is configured.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omnisocial/omnisocial/internal/hub"
	"github.com/omnisocial/omnisocial/internal/models"
)

// PostgresConnectionStore implements hub.ConnectionStore using PostgreSQL.
type PostgresConnectionStore struct {
	db *sql.DB
}

// NewPostgresConnectionStore creates a new PostgreSQL connection store.
func NewPostgresConnectionStore(db *sql.DB) *PostgresConnectionStore {
	return &PostgresConnectionStore{db: db}
}

// EnsureSchema creates the connections table if it doesn't exist.
func (s *PostgresConnectionStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS platform_connections (
			user_id      TEXT NOT NULL,
			platform     TEXT NOT NULL,
			profile_id   TEXT NOT NULL DEFAULT '',
			username     TEXT NOT NULL DEFAULT '',
			connected_at TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, platform)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create platform_connections table: %w", err)
	}
	return nil
}

// SaveConnection upserts a connection record keyed by (user, platform).
func (s *PostgresConnectionStore) SaveConnection(ctx context.Context, rec hub.ConnectionRecord) error {
	query := `
		INSERT INTO platform_connections (user_id, platform, profile_id, username, connected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, platform)
		DO UPDATE SET profile_id = EXCLUDED.profile_id,
		              username = EXCLUDED.username,
		              connected_at = EXCLUDED.connected_at,
		              updated_at = now()
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID,
		rec.Platform.String(),
		rec.ProfileID,
		rec.Username,
		rec.ConnectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection record. Deleting a missing record
// is not an error.
func (s *PostgresConnectionStore) DeleteConnection(ctx context.Context, userID string, p models.Platform) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM platform_connections WHERE user_id = $1 AND platform = $2",
		userID, p.String())
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// ListConnections returns all persisted records for a user, newest first.
func (s *PostgresConnectionStore) ListConnections(ctx context.Context, userID string) ([]hub.ConnectionRecord, error) {
	query := `
		SELECT user_id, platform, profile_id, username, connected_at
		FROM platform_connections
		WHERE user_id = $1
		ORDER BY connected_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var out []hub.ConnectionRecord
	for rows.Next() {
		var rec hub.ConnectionRecord
		var platform string
		var connectedAt time.Time
		if err := rows.Scan(&rec.UserID, &platform, &rec.ProfileID, &rec.Username, &connectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		p, err := models.ParsePlatform(platform)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored platform: %w", err)
		}
		rec.Platform = p
		rec.ConnectedAt = connectedAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return out, nil
}
