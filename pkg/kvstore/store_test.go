package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Set(ctx, "test-key", `{"a":1}`)
	require.NoError(t, err)

	v, err := store.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Set(ctx, "del-key", "val")
	err := store.Delete(ctx, "del-key")
	require.NoError(t, err)

	_, err = store.Get(ctx, "del-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_OverwriteKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, "key", "val1")
	_ = store.Set(ctx, "key", "val2")
	v, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "val2", v)
}

func TestMemoryStore_DeleteNonexistent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	err := store.Delete(ctx, "nope")
	assert.NoError(t, err)
}

func TestMemoryStore_EmptyValueIsStored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "empty", ""))
	v, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestMemoryStore_Keys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, "poesy.b", "1")
	_ = store.Set(ctx, "poesy.a", "1")
	_ = store.Set(ctx, "qwen-role", "1")

	keys, err := store.Keys(ctx, "poesy.")
	require.NoError(t, err)
	assert.Equal(t, []string{"poesy.a", "poesy.b"}, keys)
}

func TestMemoryStore_SatisfiesStore(t *testing.T) {
	var _ Store = NewMemoryStore()
}
