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

// TicketRepository persists support tickets and enforces the unique
// open-ticket invariant per (contact_number, connection_id).
type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	// FindOpenByContact returns the non-resolved ticket claiming this
	// contact on the given connection, or an unassigned manual ticket
	// for the same contact. ErrNotFound when the contact is free.
	FindOpenByContact(ctx context.Context, contactNumber string, connectionID int64) (*models.Ticket, error)
	// Create inserts the ticket and issues its protocol number.
	// ErrConflict if an open ticket already claims the contact.
	Create(ctx context.Context, t *models.Ticket) error
	// UpdateStatus applies a status transition. The returned bool is
	// false when the row was untouched (already in that status or gone).
	UpdateStatus(ctx context.Context, id int64, status models.TicketStatus, userID *int64) (bool, error)
	SetQueue(ctx context.Context, id int64, queueID int64) error
	AssignUser(ctx context.Context, id int64, userID int64) error
	// RegisterContactMessage bumps last_message, clears the hold flag
	// and optionally increments the unread counter.
	RegisterContactMessage(ctx context.Context, id int64, body string, incrementUnread bool) error
	SetInvalidAttempts(ctx context.Context, id int64, attempts int) error
	ResetUnread(ctx context.Context, id int64) error
	List(ctx context.Context, status models.TicketStatus, limit, offset int) ([]*models.Ticket, error)
}

// TicketSQLRepository is the SQL-backed ticket store.
type TicketSQLRepository struct {
	db *sql.DB
}

// NewTicketRepository creates a new SQL ticket repository.
func NewTicketRepository(db *sql.DB) *TicketSQLRepository {
	return &TicketSQLRepository{db: db}
}

const ticketColumns = `id, contact_name, contact_number, status, is_on_hold, is_manual,
	user_id, queue_id, connection_id, protocol, invalid_attempts, unread_messages,
	COALESCE(last_message, ''), created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (*models.Ticket, error) {
	t := &models.Ticket{}
	err := row.Scan(&t.ID, &t.ContactName, &t.ContactNumber, &t.Status, &t.IsOnHold, &t.IsManual,
		&t.UserID, &t.QueueID, &t.ConnectionID, &t.Protocol, &t.InvalidAttempts, &t.UnreadMessages,
		&t.LastMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID retrieves a ticket by its id.
func (r *TicketSQLRepository) GetByID(ctx context.Context, id int64) (*models.Ticket, error) {
	query := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`)
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ticket: %w", err)
	}
	return t, nil
}

// FindOpenByContact looks up the ticket currently claiming a contact.
func (r *TicketSQLRepository) FindOpenByContact(ctx context.Context, contactNumber string, connectionID int64) (*models.Ticket, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE contact_number = ? AND status <> 'resolved'
		  AND (connection_id = ? OR (is_manual AND connection_id IS NULL))
		ORDER BY updated_at DESC
		LIMIT 1`)
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, contactNumber, connectionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open ticket: %w", err)
	}
	return t, nil
}

// Create inserts a ticket and issues its protocol number.
func (r *TicketSQLRepository) Create(ctx context.Context, t *models.Ticket) error {
	if t.ConnectionID != nil {
		if _, err := r.FindOpenByContact(ctx, t.ContactNumber, *t.ConnectionID); err == nil {
			return ErrConflict
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	} else {
		// An unassigned manual ticket would claim the contact on every
		// connection, so any open ticket blocks it.
		query := database.ConvertPlaceholders(
			`SELECT COUNT(*) FROM tickets WHERE contact_number = ? AND status <> 'resolved'`)
		var open int
		if err := r.db.QueryRowContext(ctx, query, t.ContactNumber).Scan(&open); err != nil {
			return fmt.Errorf("failed to check open tickets: %w", err)
		}
		if open > 0 {
			return ErrConflict
		}
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TicketPending
	}

	insert := database.ConvertPlaceholders(`
		INSERT INTO tickets
			(contact_name, contact_number, status, is_on_hold, is_manual, user_id,
			 queue_id, connection_id, protocol, invalid_attempts, unread_messages,
			 last_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?, ?, ?)`)

	if database.IsPostgreSQL() {
		insert += ` RETURNING id`
		err := r.db.QueryRowContext(ctx, insert,
			t.ContactName, t.ContactNumber, t.Status, t.IsOnHold, t.IsManual, t.UserID,
			t.QueueID, t.ConnectionID, t.UnreadMessages, t.LastMessage, now, now).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
	} else {
		result, err := r.db.ExecContext(ctx, insert,
			t.ContactName, t.ContactNumber, t.Status, t.IsOnHold, t.IsManual, t.UserID,
			t.QueueID, t.ConnectionID, t.UnreadMessages, t.LastMessage, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		t.ID = id
	}

	t.Protocol = models.MakeProtocol(now, t.ID)
	update := database.ConvertPlaceholders(`UPDATE tickets SET protocol = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, update, t.Protocol, t.ID); err != nil {
		return fmt.Errorf("failed to set ticket protocol: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition.
func (r *TicketSQLRepository) UpdateStatus(ctx context.Context, id int64, status models.TicketStatus, userID *int64) (bool, error) {
	query := database.ConvertPlaceholders(`
		UPDATE tickets
		SET status = ?, user_id = COALESCE(?, user_id), updated_at = ?
		WHERE id = ? AND status <> ?`)
	result, err := r.db.ExecContext(ctx, query, status, userID, time.Now().UTC(), id, status)
	if err != nil {
		return false, fmt.Errorf("failed to update ticket status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetQueue routes the ticket into a department.
func (r *TicketSQLRepository) SetQueue(ctx context.Context, id int64, queueID int64) error {
	query := database.ConvertPlaceholders(`UPDATE tickets SET queue_id = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, queueID, time.Now().UTC(), id)
}

// AssignUser gives an agent exclusive write ownership of the ticket.
func (r *TicketSQLRepository) AssignUser(ctx context.Context, id int64, userID int64) error {
	query := database.ConvertPlaceholders(`UPDATE tickets SET user_id = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, userID, time.Now().UTC(), id)
}

// RegisterContactMessage records inbound activity on the ticket.
func (r *TicketSQLRepository) RegisterContactMessage(ctx context.Context, id int64, body string, incrementUnread bool) error {
	bump := 0
	if incrementUnread {
		bump = 1
	}
	query := database.ConvertPlaceholders(`
		UPDATE tickets
		SET last_message = ?, unread_messages = unread_messages + ?, is_on_hold = ?, updated_at = ?
		WHERE id = ?`)
	return r.exec(ctx, query, body, bump, false, time.Now().UTC(), id)
}

// SetInvalidAttempts stores the ticket-level invalid choice counter.
func (r *TicketSQLRepository) SetInvalidAttempts(ctx context.Context, id int64, attempts int) error {
	query := database.ConvertPlaceholders(`UPDATE tickets SET invalid_attempts = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, attempts, time.Now().UTC(), id)
}

// ResetUnread zeroes the unread counter.
func (r *TicketSQLRepository) ResetUnread(ctx context.Context, id int64) error {
	query := database.ConvertPlaceholders(`UPDATE tickets SET unread_messages = 0, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, query, time.Now().UTC(), id)
}

// List returns tickets filtered by status, newest activity first.
func (r *TicketSQLRepository) List(ctx context.Context, status models.TicketStatus, limit, offset int) ([]*models.Ticket, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	query := database.ConvertPlaceholders(`
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE (? = '' OR status = ?)
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`)
	rows, err := r.db.QueryContext(ctx, query, string(status), string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TicketSQLRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ticket update failed: %w", err)
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
