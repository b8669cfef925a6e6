package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zapdesk-io/zapdesk-ce/internal/database"
)

// CooldownRepository persists the per-contact quiet window armed when
// a ticket resolves, so the chatbot does not immediately restart the
// queue dialogue on a "thanks, bye" reply.
type CooldownRepository interface {
	// Arm sets or extends the cooldown for a contact.
	Arm(ctx context.Context, contactNumber string, until time.Time) error
	// IsActive reports whether the contact is inside a cooldown window.
	IsActive(ctx context.Context, contactNumber string, now time.Time) (bool, error)
	// DeleteExpired removes windows that ended before now and returns
	// how many rows the sweep reclaimed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CooldownSQLRepository is the SQL-backed cooldown store.
type CooldownSQLRepository struct {
	db *sql.DB
}

// NewCooldownRepository creates a new SQL cooldown repository.
func NewCooldownRepository(db *sql.DB) *CooldownSQLRepository {
	return &CooldownSQLRepository{db: db}
}

// Arm upserts the cooldown row for a contact.
func (r *CooldownSQLRepository) Arm(ctx context.Context, contactNumber string, until time.Time) error {
	var query string
	switch {
	case database.IsMySQL():
		query = `INSERT INTO bot_cooldowns (contact_number, cooldown_until) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE cooldown_until = VALUES(cooldown_until)`
	default:
		// postgres and sqlite share ON CONFLICT syntax
		query = database.ConvertPlaceholders(`
			INSERT INTO bot_cooldowns (contact_number, cooldown_until) VALUES (?, ?)
			ON CONFLICT (contact_number) DO UPDATE SET cooldown_until = excluded.cooldown_until`)
	}
	if _, err := r.db.ExecContext(ctx, query, contactNumber, until); err != nil {
		return fmt.Errorf("failed to arm cooldown: %w", err)
	}
	return nil
}

// IsActive checks whether the contact's cooldown window covers now.
func (r *CooldownSQLRepository) IsActive(ctx context.Context, contactNumber string, now time.Time) (bool, error) {
	var until time.Time
	query := database.ConvertPlaceholders(`SELECT cooldown_until FROM bot_cooldowns WHERE contact_number = ?`)
	err := r.db.QueryRowContext(ctx, query, contactNumber).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query cooldown: %w", err)
	}
	return now.Before(until), nil
}

// DeleteExpired sweeps finished cooldown windows.
func (r *CooldownSQLRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := database.ConvertPlaceholders(`DELETE FROM bot_cooldowns WHERE cooldown_until <= ?`)
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cooldowns: %w", err)
	}
	return result.RowsAffected()
}
