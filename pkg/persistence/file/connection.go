package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/google/uuid"
)

const connectionsDir = "connections"

// ConnectionRepository handles connection file operations.
type ConnectionRepository struct {
	p *Persistence
}

func (r *ConnectionRepository) ConnectionByID(_ context.Context, id string) (*models.Connection, error) {
	connection := &models.Connection{}

	err := r.p.readEntity(connectionsDir, id, connection)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrConnectionNotFound
		}

		return nil, err
	}

	return connection, nil
}

func (r *ConnectionRepository) SaveConnection(_ context.Context, connection *models.Connection) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

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

	return r.p.writeEntity(connectionsDir, connection.ID, connection)
}
