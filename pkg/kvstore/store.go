// Package kvstore defines the durable, string-keyed store that backs client-side state
// such as the session token pair, drafts and the chat persona.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("key not found")

// Store is a string-keyed store of raw string values.
//
// Implementations may be shared between processes; writers never coordinate, the last
// Set wins.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
