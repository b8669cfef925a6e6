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

// QueueRepository persists departments and their links to connections
// and agents. ListByConnection order is what the chatbot numbers the
// menu with, so it must be stable.
type QueueRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Queue, error)
	List(ctx context.Context) ([]*models.Queue, error)
	Create(ctx context.Context, q *models.Queue) error
	Delete(ctx context.Context, id int64) error
	// ListByConnection returns the queues offered on a connection,
	// ordered by name.
	ListByConnection(ctx context.Context, connectionID int64) ([]*models.Queue, error)
	AttachToConnection(ctx context.Context, queueID, connectionID int64) error
	// IsMember reports whether the agent belongs to the queue.
	IsMember(ctx context.Context, userID, queueID int64) (bool, error)
	AddMember(ctx context.Context, userID, queueID int64) error
	// FindEligibleAgent picks the queue member to auto-assign, most
	// recently active first with never-active members last.
	FindEligibleAgent(ctx context.Context, queueID int64) (*models.User, error)
}

// QueueSQLRepository is the SQL-backed queue store.
type QueueSQLRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new SQL queue repository.
func NewQueueRepository(db *sql.DB) *QueueSQLRepository {
	return &QueueSQLRepository{db: db}
}

// GetByID retrieves a queue by its id.
func (r *QueueSQLRepository) GetByID(ctx context.Context, id int64) (*models.Queue, error) {
	query := database.ConvertPlaceholders(`SELECT id, name, created_at FROM queues WHERE id = ?`)
	q := &models.Queue{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&q.ID, &q.Name, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	return q, nil
}

// List retrieves every queue ordered by name.
func (r *QueueSQLRepository) List(ctx context.Context) ([]*models.Queue, error) {
	query := `SELECT id, name, created_at FROM queues ORDER BY name`
	return r.queryQueues(ctx, query)
}

// Create inserts a queue.
func (r *QueueSQLRepository) Create(ctx context.Context, q *models.Queue) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	insert := database.ConvertPlaceholders(`INSERT INTO queues (name, created_at) VALUES (?, ?)`)
	if database.IsPostgreSQL() {
		insert += ` RETURNING id`
		if err := r.db.QueryRowContext(ctx, insert, q.Name, q.CreatedAt).Scan(&q.ID); err != nil {
			return fmt.Errorf("failed to insert queue: %w", err)
		}
		return nil
	}
	result, err := r.db.ExecContext(ctx, insert, q.Name, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert queue: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = id
	return nil
}

// Delete removes a queue and its membership links.
func (r *QueueSQLRepository) Delete(ctx context.Context, id int64) error {
	query := database.ConvertPlaceholders(`DELETE FROM queues WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	for _, table := range []string{"connection_queues", "user_queues"} {
		purge := database.ConvertPlaceholders(`DELETE FROM ` + table + ` WHERE queue_id = ?`)
		if _, err := r.db.ExecContext(ctx, purge, id); err != nil {
			return fmt.Errorf("failed to unlink queue from %s: %w", table, err)
		}
	}
	return nil
}

// ListByConnection returns the queues a connection offers, by name.
func (r *QueueSQLRepository) ListByConnection(ctx context.Context, connectionID int64) ([]*models.Queue, error) {
	query := database.ConvertPlaceholders(`
		SELECT q.id, q.name, q.created_at
		FROM queues q
		JOIN connection_queues cq ON cq.queue_id = q.id
		WHERE cq.connection_id = ?
		ORDER BY q.name`)
	return r.queryQueues(ctx, query, connectionID)
}

// AttachToConnection offers a queue on a connection.
func (r *QueueSQLRepository) AttachToConnection(ctx context.Context, queueID, connectionID int64) error {
	query := database.ConvertPlaceholders(`
		INSERT INTO connection_queues (connection_id, queue_id) VALUES (?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, connectionID, queueID); err != nil {
		return fmt.Errorf("failed to attach queue to connection: %w", err)
	}
	return nil
}

// IsMember reports whether an agent belongs to a queue.
func (r *QueueSQLRepository) IsMember(ctx context.Context, userID, queueID int64) (bool, error) {
	var n int
	query := database.ConvertPlaceholders(`
		SELECT COUNT(1) FROM user_queues WHERE user_id = ? AND queue_id = ?`)
	if err := r.db.QueryRowContext(ctx, query, userID, queueID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check queue membership: %w", err)
	}
	return n > 0, nil
}

// AddMember enrolls an agent in a queue.
func (r *QueueSQLRepository) AddMember(ctx context.Context, userID, queueID int64) error {
	query := database.ConvertPlaceholders(`INSERT INTO user_queues (user_id, queue_id) VALUES (?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, userID, queueID); err != nil {
		return fmt.Errorf("failed to add queue member: %w", err)
	}
	return nil
}

// FindEligibleAgent picks the auto-assign target for a queue.
func (r *QueueSQLRepository) FindEligibleAgent(ctx context.Context, queueID int64) (*models.User, error) {
	query := database.ConvertPlaceholders(`
		SELECT u.id, u.name, u.email, u.password_hash, u.last_active_at, u.created_at
		FROM users u
		JOIN user_queues uq ON uq.user_id = u.id
		WHERE uq.queue_id = ?
		ORDER BY (u.last_active_at IS NULL), u.last_active_at DESC
		LIMIT 1`)
	u := &models.User{}
	err := r.db.QueryRowContext(ctx, query, queueID).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.LastActiveAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick eligible agent: %w", err)
	}
	return u, nil
}

func (r *QueueSQLRepository) queryQueues(ctx context.Context, query string, args ...any) ([]*models.Queue, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queues: %w", err)
	}
	defer rows.Close()

	var out []*models.Queue
	for rows.Next() {
		q := &models.Queue{}
		if err := rows.Scan(&q.ID, &q.Name, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
