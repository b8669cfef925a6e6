package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk-io/zapdesk-ce/internal/database"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// MessageRepository persists ticket messages and their delivery state.
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	ListByTicket(ctx context.Context, ticketID int64) ([]*models.Message, error)
	// MarkDelivered flips delivered false-to-true for the message with
	// this transport id. Returns the message id and whether the update
	// applied; a second acknowledgement is a no-op.
	MarkDelivered(ctx context.Context, waMessageID string) (string, bool, error)
	// MarkSent records that the message left through the transport.
	MarkSent(ctx context.Context, id string, waMessageID string) error
}

// MessageSQLRepository is the SQL-backed message store.
type MessageSQLRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new SQL message repository.
func NewMessageRepository(db *sql.DB) *MessageSQLRepository {
	return &MessageSQLRepository{db: db}
}

// Create inserts a message, assigning an id when the caller left it empty.
func (r *MessageSQLRepository) Create(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO messages (id, ticket_id, sender, body, sent_via_whatsapp, wa_message_id, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.TicketID, m.Sender, m.Body, m.SentViaWhatsApp, nullable(m.WAMessageID), m.Delivered, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListByTicket returns a ticket's messages in chronological order.
func (r *MessageSQLRepository) ListByTicket(ctx context.Context, ticketID int64) ([]*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, ticket_id, sender, body, sent_via_whatsapp, COALESCE(wa_message_id, ''), delivered, created_at
		FROM messages
		WHERE ticket_id = ?
		ORDER BY created_at, id`)
	rows, err := r.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Sender, &m.Body,
			&m.SentViaWhatsApp, &m.WAMessageID, &m.Delivered, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered applies the delivered 0-to-1 transition at most once.
func (r *MessageSQLRepository) MarkDelivered(ctx context.Context, waMessageID string) (string, bool, error) {
	var id string
	lookup := database.ConvertPlaceholders(`SELECT id FROM messages WHERE wa_message_id = ? AND delivered = ?`)
	err := r.db.QueryRowContext(ctx, lookup, waMessageID, false).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up message by transport id: %w", err)
	}

	update := database.ConvertPlaceholders(`UPDATE messages SET delivered = ? WHERE id = ? AND delivered = ?`)
	result, err := r.db.ExecContext(ctx, update, true, id, false)
	if err != nil {
		return "", false, fmt.Errorf("failed to mark message delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, err
	}
	return id, affected > 0, nil
}

// MarkSent records the transport id after a successful send.
func (r *MessageSQLRepository) MarkSent(ctx context.Context, id string, waMessageID string) error {
	query := database.ConvertPlaceholders(`UPDATE messages SET sent_via_whatsapp = ?, wa_message_id = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, true, waMessageID, id)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
