// Package models defines the persisted types and their pgx-backed stores.
package models

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("models: not found")

	// ErrConflict is returned when a write collides with existing state: a
	// duplicate enrichment or an illegal job transition.
	ErrConflict = errors.New("models: conflict")
)
