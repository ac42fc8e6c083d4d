package typedstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/poesy/pkg/kvstore"
	"github.com/p-blackswan/poesy/pkg/shape"
)

type pair struct {
	AccessToken  string `json:"accessToken"`
	ExpireTime   int64  `json:"expireTime"`
	RefreshToken string `json:"refreshToken"`
}

var decodePair = shape.Decode[pair](shape.Object(
	shape.Field("accessToken", shape.String),
	shape.Field("expireTime", shape.Number),
	shape.Field("refreshToken", shape.String),
))

func newCell(t *testing.T) (*Cell[pair], *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	return New(store, "token-pair", decodePair), store
}

func TestCell_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	cell, _ := newCell(t)

	values := []pair{
		{AccessToken: "T1", ExpireTime: 1700000000000, RefreshToken: "R1"},
		{AccessToken: "", ExpireTime: 0, RefreshToken: ""},
		{AccessToken: "ünïcode \"quoted\"", ExpireTime: -5, RefreshToken: "\n"},
	}
	for _, v := range values {
		require.NoError(t, cell.Write(ctx, v))
		got, ok := cell.Read(ctx)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestCell_ReadAbsent(t *testing.T) {
	ctx := context.Background()
	cell, store := newCell(t)

	_, ok := cell.Read(ctx)
	assert.False(t, ok, "empty slot")

	raws := []string{
		"",
		"not json",
		`{"accessToken":"T1"`,
		`{"accessToken":"T1","expireTime":1}`,
		`{"accessToken":"T1","expireTime":"soon","refreshToken":"R1"}`,
		`["T1", 1, "R1"]`,
		`null`,
		`42`,
	}
	for _, raw := range raws {
		require.NoError(t, store.Set(ctx, "token-pair", raw))
		got, ok := cell.Read(ctx)
		assert.False(t, ok, "raw %q should read absent", raw)
		assert.Equal(t, pair{}, got)
	}
}

func TestCell_ClearAlwaysAbsent(t *testing.T) {
	ctx := context.Background()
	cell, store := newCell(t)

	require.NoError(t, cell.Clear(ctx))
	_, ok := cell.Read(ctx)
	assert.False(t, ok)

	require.NoError(t, cell.Write(ctx, pair{AccessToken: "T"}))
	require.NoError(t, cell.Clear(ctx))
	_, ok = cell.Read(ctx)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "token-pair", "garbage"))
	require.NoError(t, cell.Clear(ctx))
	_, ok = cell.Read(ctx)
	assert.False(t, ok)
}

func TestCell_ReadSeesExternalWrites(t *testing.T) {
	ctx := context.Background()
	cell, store := newCell(t)

	require.NoError(t, cell.Write(ctx, pair{AccessToken: "T1", ExpireTime: 1, RefreshToken: "R1"}))
	require.NoError(t, store.Set(ctx, "token-pair", `{"accessToken":"T2","expireTime":2,"refreshToken":"R2"}`))

	got, ok := cell.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, "T2", got.AccessToken)
}

func TestCell_AliasedKeys(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	a := New(store, "shared", decodePair)
	b := New(store, "shared", decodePair)

	require.NoError(t, a.Write(ctx, pair{AccessToken: "T1", ExpireTime: 1, RefreshToken: "R1"}))
	got, ok := b.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, "T1", got.AccessToken)
}

func TestCell_Update(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	counts := New(store, "counts", shape.Decode[map[string]int](shape.MapOf(shape.Number)))

	bump := func(cur map[string]int, ok bool) map[string]int {
		if !ok {
			cur = map[string]int{}
		}
		cur["x"]++
		return cur
	}
	require.NoError(t, counts.Update(ctx, bump))
	require.NoError(t, counts.Update(ctx, bump))

	got, ok := counts.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, got["x"])
}

type failingStore struct{ kvstore.Store }

func (failingStore) Get(context.Context, string) (string, error) { return "", errors.New("disk gone") }
func (failingStore) Set(context.Context, string, string) error    { return errors.New("disk gone") }
func (failingStore) Delete(context.Context, string) error         { return errors.New("disk gone") }

func TestCell_StoreFailures(t *testing.T) {
	ctx := context.Background()
	cell := New[pair](failingStore{}, "token-pair", decodePair)

	_, ok := cell.Read(ctx)
	assert.False(t, ok)
	assert.ErrorContains(t, cell.Write(ctx, pair{}), "write token-pair")
	assert.ErrorContains(t, cell.Clear(ctx), "clear token-pair")
	assert.Equal(t, "token-pair", cell.Key())
}
