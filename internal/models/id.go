package models

import "github.com/google/uuid"

// IDGenerator produces unique string identifiers.
type IDGenerator func() string

// NewID returns a time-sortable UUIDv7. Document and audit ids are never
// reused.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
