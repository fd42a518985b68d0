// Package memstore provides the transactional in-memory backing used by the
// ledger repositories in development mode and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
)

// Snapshotter captures state and returns a function restoring it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Store serializes all access behind one mutex. A transaction holds the
// mutex until it finishes and restores every registered table on error.
type Store struct {
	mu     sync.Mutex
	parts  []Snapshotter
	seqMu  sync.Mutex
	seqs   map[string]int64
	partMu sync.Mutex
}

// New constructs an empty Store.
func New() *Store {
	return &Store{seqs: make(map[string]int64)}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// Register adds a table to the snapshot set.
func (s *Store) Register(part Snapshotter) {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	s.parts = append(s.parts, part)
}

// WithTx runs fn atomically. Nested calls with a ctx from an enclosing
// transaction join it.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partMu.Lock()
	restores := make([]func(), 0, len(s.parts))
	for _, part := range s.parts {
		restores = append(restores, part.Snapshot())
	}
	s.partMu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}

// Acquire locks the store for a single read or write outside a transaction.
// Inside a transaction it is a no-op.
func (s *Store) Acquire(ctx context.Context) (release func()) {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// NextID returns the next value of the named sequence. Sequences are not
// rolled back, matching database serial columns.
func (s *Store) NextID(name string) int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seqs[name]++
	return s.seqs[name]
}

// Table is an int64 keyed collection that participates in transactions.
type Table[V any] struct {
	rows  map[int64]V
	clone func(V) V
}

// NewTable creates a table registered with store. clone deep copies values
// holding slices or maps; nil means values are copied as is.
func NewTable[V any](store *Store, clone func(V) V) *Table[V] {
	t := &Table[V]{rows: make(map[int64]V), clone: clone}
	store.Register(t)
	return t
}

// Snapshot implements Snapshotter.
func (t *Table[V]) Snapshot() func() {
	saved := make(map[int64]V, len(t.rows))
	for id, row := range t.rows {
		saved[id] = t.copy(row)
	}
	return func() { t.rows = saved }
}

func (t *Table[V]) copy(v V) V {
	if t.clone == nil {
		return v
	}
	return t.clone(v)
}

// Get returns a copy of the row with id.
func (t *Table[V]) Get(id int64) (V, bool) {
	row, ok := t.rows[id]
	if !ok {
		return row, false
	}
	return t.copy(row), true
}

// Put stores a copy of v under id.
func (t *Table[V]) Put(id int64, v V) {
	t.rows[id] = t.copy(v)
}

// Delete removes id.
func (t *Table[V]) Delete(id int64) {
	delete(t.rows, id)
}

// Len returns the row count.
func (t *Table[V]) Len() int { return len(t.rows) }

// All returns copies of every row ordered by id.
func (t *Table[V]) All() []V {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.copy(t.rows[id]))
	}
	return out
}

// Find returns the first row, by id, matching pred.
func (t *Table[V]) Find(pred func(V) bool) (V, bool) {
	for _, row := range t.All() {
		if pred(row) {
			return row, true
		}
	}
	var zero V
	return zero, false
}

// Filter returns rows, by id, matching pred.
func (t *Table[V]) Filter(pred func(V) bool) []V {
	var out []V
	for _, row := range t.All() {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}
