package models

import "time"

// Queue is a department tickets are routed into. Queues offered by a
// connection are always presented and validated in the same order
// (by name) so a numbered reply maps to the right department.
type Queue struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a desk agent. LastActiveAt ranks agents for auto-assignment.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	LastActiveAt *time.Time `json:"last_active_at"`
	CreatedAt    time.Time  `json:"created_at"`
}
