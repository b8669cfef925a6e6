// Package repository defines the store contract the desk core runs
// against, with one SQL and one in-memory implementation per aggregate.
// Every write is a single statement with an observable affected-row
// count so callers can tell "applied" from "no-op".
package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a uniqueness invariant would break,
	// such as a second open ticket for the same contact and connection.
	ErrConflict = errors.New("record already exists")
)
