package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// pkColumn returns the auto-increment primary key fragment for the
// active driver.
func pkColumn() string {
	switch {
	case IsPostgreSQL():
		return "BIGSERIAL PRIMARY KEY"
	case IsMySQL():
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// Bootstrap creates every table the desk needs if it does not exist yet.
// Statements are idempotent so Bootstrap is safe to run on every start.
func Bootstrap(db *sql.DB) error {
	pk := pkColumn()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS connections (
			id %s,
			name VARCHAR(120) NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			chatbot_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			start_time VARCHAR(5),
			end_time VARCHAR(5),
			device_jid VARCHAR(64),
			status VARCHAR(20) NOT NULL DEFAULT 'DISCONNECTED',
			greeting_message TEXT,
			farewell_message TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			name VARCHAR(120) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL DEFAULT '',
			last_active_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS queues (
			id %s,
			name VARCHAR(120) NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE TABLE IF NOT EXISTS connection_queues (
			connection_id BIGINT NOT NULL,
			queue_id BIGINT NOT NULL,
			PRIMARY KEY (connection_id, queue_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_queues (
			user_id BIGINT NOT NULL,
			queue_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, queue_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tickets (
			id %s,
			contact_name VARCHAR(255) NOT NULL DEFAULT '',
			contact_number VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			is_on_hold BOOLEAN NOT NULL DEFAULT FALSE,
			is_manual BOOLEAN NOT NULL DEFAULT FALSE,
			user_id BIGINT,
			queue_id BIGINT,
			connection_id BIGINT,
			protocol VARCHAR(40) NOT NULL DEFAULT '',
			invalid_attempts INTEGER NOT NULL DEFAULT 0,
			unread_messages INTEGER NOT NULL DEFAULT 0,
			last_message TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(64) PRIMARY KEY,
			ticket_id BIGINT NOT NULL,
			sender VARCHAR(10) NOT NULL,
			body TEXT NOT NULL,
			sent_via_whatsapp BOOLEAN NOT NULL DEFAULT FALSE,
			wa_message_id VARCHAR(128),
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_selections (
			contact_number VARCHAR(32) PRIMARY KEY,
			contact_name VARCHAR(255) NOT NULL DEFAULT '',
			connection_id BIGINT NOT NULL,
			first_message TEXT,
			first_message_at TIMESTAMP NOT NULL,
			invalid_attempts INTEGER NOT NULL DEFAULT 0,
			initial_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pending_messages (
			id %s,
			contact_number VARCHAR(32) NOT NULL,
			body TEXT NOT NULL,
			wa_message_id VARCHAR(128),
			received_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE TABLE IF NOT EXISTS bot_cooldowns (
			contact_number VARCHAR(32) PRIMARY KEY,
			cooldown_until TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_contact ON tickets (contact_number, connection_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ticket ON messages (ticket_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_messages_contact ON pending_messages (contact_number)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap failed on %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if idx := strings.IndexByte(stmt, '('); idx > 0 {
		return strings.TrimSpace(stmt[:idx])
	}
	return stmt
}
