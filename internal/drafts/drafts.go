// Package drafts keeps unsent question and answer text between runs.
//
// Drafts live in one store slot as a list ordered from most to least recently
// written. The list is bounded; writing past capacity drops the oldest draft.
package drafts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/pkg/kvstore"
	"github.com/p-blackswan/poesy/pkg/shape"
	"github.com/p-blackswan/poesy/pkg/typedstore"
)

// StorageKey is the store slot holding the draft list.
const StorageKey = "poesy.drafts"

// DefaultCapacity is used when New is given a capacity below 1.
const DefaultCapacity = 32

// Draft is unsent content for one question or answer.
type Draft struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	// UpdatedAt is the last write in epoch milliseconds.
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

var decodeDrafts = shape.Decode[[]Draft](shape.ArrayOf(shape.Object(
	shape.Field("id", shape.String),
	shape.Field("content", shape.String),
	shape.Optional("updatedAt", shape.Number),
)))

// Drafts is the draft list for one store.
type Drafts struct {
	mu       sync.Mutex
	cell     *typedstore.Cell[[]Draft]
	capacity int
	now      func() time.Time
}

// New returns the draft list in store holding at most capacity drafts.
func New(store kvstore.Store, capacity int) *Drafts {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Drafts{
		cell:     typedstore.New(store, StorageKey, decodeDrafts),
		capacity: capacity,
		now:      time.Now,
	}
}

// Capacity returns the maximum number of drafts kept.
func (d *Drafts) Capacity() int { return d.capacity }

// List returns every draft, most recently written first. A missing or
// unreadable slot is an empty list.
func (d *Drafts) List(ctx context.Context) []Draft {
	list, _ := d.cell.Read(ctx)
	return list
}

// Get returns the draft content for id.
func (d *Drafts) Get(ctx context.Context, id string) (string, bool) {
	for _, dr := range d.List(ctx) {
		if dr.ID == id {
			return dr.Content, true
		}
	}
	return "", false
}

// IDs returns draft ids, most recently written first.
func (d *Drafts) IDs(ctx context.Context) []string {
	list := d.List(ctx)
	ids := make([]string, 0, len(list))
	for _, dr := range list {
		ids = append(ids, dr.ID)
	}
	return ids
}

// Put stores content for id as the most recent draft and returns the ids
// evicted to stay within capacity.
func (d *Drafts) Put(ctx context.Context, id, content string) ([]string, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty draft id", perrors.ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.List(ctx)
	next := make([]Draft, 0, len(list)+1)
	next = append(next, Draft{ID: id, Content: content, UpdatedAt: d.now().UnixMilli()})
	for _, dr := range list {
		if dr.ID != id {
			next = append(next, dr)
		}
	}

	var evicted []string
	if len(next) > d.capacity {
		for _, dr := range next[d.capacity:] {
			evicted = append(evicted, dr.ID)
		}
		next = next[:d.capacity]
	}
	return evicted, d.cell.Write(ctx, next)
}

// Delete removes the draft for id. It reports whether one existed.
func (d *Drafts) Delete(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.List(ctx)
	next := make([]Draft, 0, len(list))
	for _, dr := range list {
		if dr.ID != id {
			next = append(next, dr)
		}
	}
	if len(next) == len(list) {
		return false, nil
	}
	if len(next) == 0 {
		return true, d.cell.Clear(ctx)
	}
	return true, d.cell.Write(ctx, next)
}

// Clear removes every draft.
func (d *Drafts) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cell.Clear(ctx)
}
