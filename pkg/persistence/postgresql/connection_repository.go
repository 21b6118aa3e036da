package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/google/uuid"
)

// ConnectionRepository handles connection database operations.
type ConnectionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ConnectionRepository) ConnectionByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `
		SELECT id, name, conn_type, base_url, credentials, owner, created_at, updated_at
		FROM connections
		WHERE id = $1
	`

	connection := &models.Connection{}

	var credentialsJSON []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&connection.ID, &connection.Name, &connection.Type, &connection.BaseURL,
		&credentialsJSON, &connection.Owner, &connection.CreatedAt, &connection.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConnectionNotFound
		}

		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if len(credentialsJSON) > 0 {
		err = json.Unmarshal(credentialsJSON, &connection.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
		}
	}

	return connection, nil
}

func (r *ConnectionRepository) SaveConnection(ctx context.Context, connection *models.Connection) error {
	now := time.Now().UTC()

	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = now
	}

	connection.UpdatedAt = now

	if connection.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate connection ID: %w", err)
		}

		connection.ID = id.String()
	}

	credentialsJSON, err := json.Marshal(connection.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	query := `
		INSERT INTO connections (id, name, conn_type, base_url, credentials, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			conn_type = EXCLUDED.conn_type,
			base_url = EXCLUDED.base_url,
			credentials = EXCLUDED.credentials,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		connection.ID, connection.Name, connection.Type, connection.BaseURL,
		credentialsJSON, connection.Owner, connection.CreatedAt, connection.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection %s: %w", connection.ID, err)
	}

	return nil
}
