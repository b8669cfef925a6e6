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

// UserRepository persists agent accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	// TouchActivity stamps last_active_at, feeding the auto-assign order.
	TouchActivity(ctx context.Context, id int64, at time.Time) error
}

// UserSQLRepository is the SQL-backed user store.
type UserSQLRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQL user repository.
func NewUserRepository(db *sql.DB) *UserSQLRepository {
	return &UserSQLRepository{db: db}
}

const userColumns = `id, name, email, password_hash, last_active_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.LastActiveAt, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByID retrieves a user by its id.
func (r *UserSQLRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := database.ConvertPlaceholders(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// FindByEmail retrieves a user by login email.
func (r *UserSQLRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := database.ConvertPlaceholders(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return u, nil
}

// Create inserts a user account.
func (r *UserSQLRepository) Create(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	insert := database.ConvertPlaceholders(`
		INSERT INTO users (name, email, password_hash, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if database.IsPostgreSQL() {
		insert += ` RETURNING id`
		err := r.db.QueryRowContext(ctx, insert,
			u.Name, u.Email, u.PasswordHash, u.LastActiveAt, u.CreatedAt).Scan(&u.ID)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	}
	result, err := r.db.ExecContext(ctx, insert,
		u.Name, u.Email, u.PasswordHash, u.LastActiveAt, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// TouchActivity stamps the user's last activity time.
func (r *UserSQLRepository) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	query := database.ConvertPlaceholders(`UPDATE users SET last_active_at = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch user activity: %w", err)
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
