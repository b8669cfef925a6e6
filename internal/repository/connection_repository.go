package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zapdesk-io/zapdesk-ce/internal/database"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// ConnectionRepository persists messaging connections. Status updates
// come only from the session lifecycle manager.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Connection, error)
	List(ctx context.Context) ([]*models.Connection, error)
	UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) error
	// UpdateDeviceJID records which provider device the connection
	// paired with. An empty jid clears the binding.
	UpdateDeviceJID(ctx context.Context, id int64, jid string) error
}

// ConnectionSQLRepository is the SQL-backed connection store.
type ConnectionSQLRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new SQL connection repository.
func NewConnectionRepository(db *sql.DB) *ConnectionSQLRepository {
	return &ConnectionSQLRepository{db: db}
}

const connectionColumns = `id, name, is_default, chatbot_enabled, start_time, end_time, device_jid,
	status, COALESCE(greeting_message, ''), COALESCE(farewell_message, ''), created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	c := &models.Connection{}
	err := row.Scan(&c.ID, &c.Name, &c.IsDefault, &c.ChatbotEnabled, &c.StartTime, &c.EndTime,
		&c.DeviceJID, &c.Status, &c.GreetingMessage, &c.FarewellMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByID retrieves a connection by its id.
func (r *ConnectionSQLRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	query := database.ConvertPlaceholders(`SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`)
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query connection: %w", err)
	}
	return c, nil
}

// List retrieves every connection ordered by name.
func (r *ConnectionSQLRepository) List(ctx context.Context) ([]*models.Connection, error) {
	query := database.ConvertPlaceholders(`SELECT ` + connectionColumns + ` FROM connections ORDER BY name`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatus moves a connection to the given lifecycle status.
func (r *ConnectionSQLRepository) UpdateStatus(ctx context.Context, id int64, status models.ConnectionStatus) error {
	query := database.ConvertPlaceholders(`UPDATE connections SET status = ?, updated_at = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeviceJID stores or clears the paired device binding.
func (r *ConnectionSQLRepository) UpdateDeviceJID(ctx context.Context, id int64, jid string) error {
	var value any
	if jid != "" {
		value = jid
	}
	query := database.ConvertPlaceholders(`UPDATE connections SET device_jid = ?, updated_at = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update device binding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
