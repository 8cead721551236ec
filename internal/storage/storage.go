// Package storage defines the string-slot persistence port used by the token store
// and its in-memory and file backends. SQL backends live in subpackages.
package storage

import "context"

// Storage persists string values under fixed slot names.
type Storage interface {
	// Get returns the slot value or errs.ErrNotFound when the slot is empty.
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites the slot value.
	Set(ctx context.Context, key, value string) error
	// Delete clears the slot; clearing an empty slot is not an error.
	Delete(ctx context.Context, key string) error
}
