// Package typedstore exposes one slot of a kvstore.Store as a typed, validated value.
//
// The raw slot stays the single source of truth: every Read fetches and re-validates it,
// every Write serializes straight back to it. A value that cannot be decoded, or that
// decodes to the wrong shape, reads as absent.
package typedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/poesy/pkg/kvstore"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// Cell is a typed view over a single store key.
type Cell[T any] struct {
	store  kvstore.Store
	key    string
	decode shape.Decoder[T]
}

// New returns a cell for key. key must identify one slot for the whole process;
// decode must accept only well-formed T.
func New[T any](store kvstore.Store, key string, decode shape.Decoder[T]) *Cell[T] {
	return &Cell[T]{store: store, key: key, decode: decode}
}

// Key returns the store key backing the cell.
func (c *Cell[T]) Key() string { return c.key }

// Read returns the current value and true, or the zero value and false when the slot is
// empty, unreadable or holds data that fails validation. It never returns an error.
func (c *Cell[T]) Read(ctx context.Context) (T, bool) {
	var zero T
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", c.key).Msg("typed cell read failed")
		}
		return zero, false
	}
	if raw == "" {
		return zero, false
	}
	v, err := c.decode([]byte(raw))
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", c.key).Msg("discarding stored value")
		return zero, false
	}
	return v, true
}

// Write serializes v into the slot. v is not validated.
func (c *Cell[T]) Write(ctx context.Context, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	if err := c.store.Set(ctx, c.key, string(raw)); err != nil {
		return fmt.Errorf("write %s: %w", c.key, err)
	}
	return nil
}

// Clear empties the slot; subsequent reads are absent.
func (c *Cell[T]) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("clear %s: %w", c.key, err)
	}
	return nil
}

// Update reads the current value (absent as the zero value), applies fn and writes the
// result. It is not atomic against other writers of the same slot.
func (c *Cell[T]) Update(ctx context.Context, fn func(current T, ok bool) T) error {
	cur, ok := c.Read(ctx)
	return c.Write(ctx, fn(cur, ok))
}
