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

// PendingSelectionRepository persists queue-selection dialogues in
// progress, unique per contact number, plus their held messages.
type PendingSelectionRepository interface {
	GetByNumber(ctx context.Context, contactNumber string) (*models.PendingSelection, error)
	// Create inserts the record; ErrConflict if the contact already has one.
	Create(ctx context.Context, p *models.PendingSelection) error
	// MarkInitialSent flips initial_sent false-to-true. The bool is the
	// compare-and-set outcome: false means another path already sent it.
	MarkInitialSent(ctx context.Context, contactNumber string) (bool, error)
	// IncrementInvalidAttempts bumps the counter and returns the new value.
	IncrementInvalidAttempts(ctx context.Context, contactNumber string) (int, error)
	// Delete removes the record; the bool reports whether a row existed.
	Delete(ctx context.Context, contactNumber string) (bool, error)
	AppendHeldMessage(ctx context.Context, hm *models.HeldMessage) error
	// TakeHeldMessages drains the holding area in arrival order.
	TakeHeldMessages(ctx context.Context, contactNumber string) ([]*models.HeldMessage, error)
	// ListStale returns dialogues created before the cutoff, used by the
	// janitor to clean up records whose timers were lost on restart.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.PendingSelection, error)
}

// PendingSelectionSQLRepository is the SQL-backed pending store.
type PendingSelectionSQLRepository struct {
	db *sql.DB
}

// NewPendingSelectionRepository creates a new SQL pending repository.
func NewPendingSelectionRepository(db *sql.DB) *PendingSelectionSQLRepository {
	return &PendingSelectionSQLRepository{db: db}
}

const pendingColumns = `contact_number, contact_name, connection_id, COALESCE(first_message, ''),
	first_message_at, invalid_attempts, initial_sent, created_at`

func scanPending(row interface{ Scan(...any) error }) (*models.PendingSelection, error) {
	p := &models.PendingSelection{}
	err := row.Scan(&p.ContactNumber, &p.ContactName, &p.ConnectionID, &p.FirstMessage,
		&p.FirstMessageAt, &p.InvalidAttempts, &p.InitialSent, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByNumber retrieves the pending dialogue for a contact.
func (r *PendingSelectionSQLRepository) GetByNumber(ctx context.Context, contactNumber string) (*models.PendingSelection, error) {
	query := database.ConvertPlaceholders(`SELECT ` + pendingColumns + ` FROM pending_selections WHERE contact_number = ?`)
	p, err := scanPending(r.db.QueryRowContext(ctx, query, contactNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending selection: %w", err)
	}
	return p, nil
}

// Create inserts a new pending dialogue.
func (r *PendingSelectionSQLRepository) Create(ctx context.Context, p *models.PendingSelection) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO pending_selections
			(contact_number, contact_name, connection_id, first_message, first_message_at,
			 invalid_attempts, initial_sent, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		p.ContactNumber, p.ContactName, p.ConnectionID, p.FirstMessage, p.FirstMessageAt,
		p.InitialSent, p.CreatedAt)
	if err != nil {
		if existing, lookupErr := r.GetByNumber(ctx, p.ContactNumber); lookupErr == nil && existing != nil {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert pending selection: %w", err)
	}
	return nil
}

// MarkInitialSent performs the initial_sent compare-and-set.
func (r *PendingSelectionSQLRepository) MarkInitialSent(ctx context.Context, contactNumber string) (bool, error) {
	query := database.ConvertPlaceholders(`
		UPDATE pending_selections SET initial_sent = ? WHERE contact_number = ? AND initial_sent = ?`)
	result, err := r.db.ExecContext(ctx, query, true, contactNumber, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark initial sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IncrementInvalidAttempts bumps the invalid reply counter.
func (r *PendingSelectionSQLRepository) IncrementInvalidAttempts(ctx context.Context, contactNumber string) (int, error) {
	update := database.ConvertPlaceholders(`
		UPDATE pending_selections SET invalid_attempts = invalid_attempts + 1 WHERE contact_number = ?`)
	result, err := r.db.ExecContext(ctx, update, contactNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to increment invalid attempts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	var attempts int
	lookup := database.ConvertPlaceholders(`SELECT invalid_attempts FROM pending_selections WHERE contact_number = ?`)
	if err := r.db.QueryRowContext(ctx, lookup, contactNumber).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read invalid attempts: %w", err)
	}
	return attempts, nil
}

// Delete removes the pending dialogue and its held messages.
func (r *PendingSelectionSQLRepository) Delete(ctx context.Context, contactNumber string) (bool, error) {
	query := database.ConvertPlaceholders(`DELETE FROM pending_selections WHERE contact_number = ?`)
	result, err := r.db.ExecContext(ctx, query, contactNumber)
	if err != nil {
		return false, fmt.Errorf("failed to delete pending selection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		purge := database.ConvertPlaceholders(`DELETE FROM pending_messages WHERE contact_number = ?`)
		if _, err := r.db.ExecContext(ctx, purge, contactNumber); err != nil {
			return true, fmt.Errorf("failed to purge held messages: %w", err)
		}
	}
	return affected > 0, nil
}

// AppendHeldMessage parks a message until the dialogue resolves.
func (r *PendingSelectionSQLRepository) AppendHeldMessage(ctx context.Context, hm *models.HeldMessage) error {
	if hm.ReceivedAt.IsZero() {
		hm.ReceivedAt = time.Now().UTC()
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO pending_messages (contact_number, body, wa_message_id, received_at)
		VALUES (?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, hm.ContactNumber, hm.Body, nullable(hm.WAMessageID), hm.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert held message: %w", err)
	}
	return nil
}

// TakeHeldMessages drains the holding area in arrival order.
func (r *PendingSelectionSQLRepository) TakeHeldMessages(ctx context.Context, contactNumber string) ([]*models.HeldMessage, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, contact_number, body, COALESCE(wa_message_id, ''), received_at
		FROM pending_messages
		WHERE contact_number = ?
		ORDER BY id`)
	rows, err := r.db.QueryContext(ctx, query, contactNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query held messages: %w", err)
	}
	defer rows.Close()

	var out []*models.HeldMessage
	for rows.Next() {
		hm := &models.HeldMessage{}
		if err := rows.Scan(&hm.ID, &hm.ContactNumber, &hm.Body, &hm.WAMessageID, &hm.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan held message: %w", err)
		}
		out = append(out, hm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	purge := database.ConvertPlaceholders(`DELETE FROM pending_messages WHERE contact_number = ?`)
	if _, err := r.db.ExecContext(ctx, purge, contactNumber); err != nil {
		return out, fmt.Errorf("failed to drain held messages: %w", err)
	}
	return out, nil
}

// ListStale returns dialogues older than the cutoff.
func (r *PendingSelectionSQLRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.PendingSelection, error) {
	query := database.ConvertPlaceholders(`SELECT ` + pendingColumns + ` FROM pending_selections WHERE created_at < ?`)
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending selections: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingSelection
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending selection: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
