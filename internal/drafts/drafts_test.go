package drafts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/pkg/kvstore"
)

func newTestDrafts(capacity int) (*Drafts, *kvstore.MemoryStore) {
	store := kvstore.NewMemoryStore()
	d := New(store, capacity)
	d.now = func() time.Time { return time.UnixMilli(1000) }
	return d, store
}

func TestPutAndGet(t *testing.T) {
	d, _ := newTestDrafts(4)
	ctx := context.Background()

	_, ok := d.Get(ctx, "q1")
	assert.False(t, ok)

	_, err := d.Put(ctx, "q1", "half a thought")
	require.NoError(t, err)

	content, ok := d.Get(ctx, "q1")
	require.True(t, ok)
	assert.Equal(t, "half a thought", content)
}

func TestPut_MostRecentFirst(t *testing.T) {
	d, _ := newTestDrafts(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := d.Put(ctx, id, id)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "b", "a"}, d.IDs(ctx))

	_, err := d.Put(ctx, "a", "rewritten")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, d.IDs(ctx))

	content, _ := d.Get(ctx, "a")
	assert.Equal(t, "rewritten", content)
}

func TestPut_EvictsOldest(t *testing.T) {
	d, _ := newTestDrafts(2)
	ctx := context.Background()

	_, err := d.Put(ctx, "a", "1")
	require.NoError(t, err)
	_, err = d.Put(ctx, "b", "2")
	require.NoError(t, err)

	evicted, err := d.Put(ctx, "c", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, []string{"c", "b"}, d.IDs(ctx))

	_, ok := d.Get(ctx, "a")
	assert.False(t, ok)
}

func TestPut_RejectsEmptyID(t *testing.T) {
	d, _ := newTestDrafts(2)
	_, err := d.Put(context.Background(), " ", "x")
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestDelete(t *testing.T) {
	d, store := newTestDrafts(4)
	ctx := context.Background()

	_, err := d.Put(ctx, "a", "1")
	require.NoError(t, err)
	_, err = d.Put(ctx, "b", "2")
	require.NoError(t, err)

	existed, err := d.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []string{"b"}, d.IDs(ctx))

	existed, err = d.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = d.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, existed)
	_, err = store.Get(ctx, StorageKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestClear(t *testing.T) {
	d, _ := newTestDrafts(4)
	ctx := context.Background()
	_, err := d.Put(ctx, "a", "1")
	require.NoError(t, err)

	require.NoError(t, d.Clear(ctx))
	assert.Empty(t, d.IDs(ctx))
}

func TestCorruptSlotReadsEmpty(t *testing.T) {
	d, store := newTestDrafts(4)
	ctx := context.Background()

	for _, raw := range []string{
		`{"q1":"old map schema"}`,
		`[{"id":"q1"}]`,
		`[{"id":1,"content":"x"}]`,
		`garbage`,
	} {
		require.NoError(t, store.Set(ctx, StorageKey, raw))
		assert.Empty(t, d.List(ctx), raw)
	}

	_, err := d.Put(ctx, "q2", "fresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, d.IDs(ctx))
}

func TestStoredFormat(t *testing.T) {
	d, store := newTestDrafts(4)
	ctx := context.Background()
	_, err := d.Put(ctx, "q1", "text")
	require.NoError(t, err)

	raw, err := store.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"q1","content":"text","updatedAt":1000}]`, raw)
}

func TestDefaultCapacity(t *testing.T) {
	d := New(kvstore.NewMemoryStore(), 0)
	assert.Equal(t, DefaultCapacity, d.Capacity())
}

func TestConcurrentPuts(t *testing.T) {
	d, _ := newTestDrafts(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Put(ctx, fmt.Sprintf("d%d", i), "x")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, d.IDs(ctx), 20)
}
