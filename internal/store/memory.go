package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs. It
// honors the full contract: server-arbitrated timestamps, atomic
// batches, create-if-absent, and live query snapshots that redeliver
// the full result set after every commit.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	watchers    map[int]*memoryWatcher
	nextWatcher int
	deliverSeq  uint64
	lastStamp   time.Time
}

type memoryWatcher struct {
	query  Query
	onNext func([]Document)
	onErr  func(error)

	// Deliveries fire outside the store lock, so two writers can race
	// to hand this watcher their snapshots. Each snapshot carries the
	// sequence number of its commit; a snapshot older than the last one
	// delivered is dropped, never replayed over newer state.
	mu      sync.Mutex
	lastSeq uint64
}

// delivery wraps one snapshot with the watcher's ordering guard.
func (w *memoryWatcher) delivery(seq uint64, docs []Document) func() {
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if seq <= w.lastSeq {
			return
		}
		w.lastSeq = seq
		w.onNext(docs)
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[int]*memoryWatcher),
	}
}

// stamp returns a strictly increasing timestamp so two writes in the
// same clock tick still have a total order.
func (s *MemoryStore) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: copyFields(data)}, nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any, merge bool) error {
	s.mu.Lock()
	s.applySet(collection, id, data, merge)
	notify := s.snapshotsLocked(collection)
	s.mu.Unlock()

	deliver(notify)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, updates []Update) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	s.applyUpdates(collection, id, updates)
	notify := s.snapshotsLocked(collection)
	s.mu.Unlock()

	deliver(notify)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	s.applySet(collection, id, data, false)
	notify := s.snapshotsLocked(collection)
	s.mu.Unlock()

	deliver(notify)
	return nil
}

func (s *MemoryStore) GetAll(_ context.Context, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runQueryLocked(q), nil
}

func (s *MemoryStore) Watch(_ context.Context, q Query, onNext func([]Document), onErr func(error)) (CancelFunc, error) {
	if q.Collection == "" {
		return func() {}, fmt.Errorf("watch: empty collection")
	}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	w := &memoryWatcher{query: q, onNext: onNext, onErr: onErr}
	s.watchers[id] = w
	s.deliverSeq++
	initial := w.delivery(s.deliverSeq, s.runQueryLocked(q))
	s.mu.Unlock()

	initial()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

// memoryBatch stages writes and applies them under one lock hold, so
// watchers observe all of the batch or none of it.
type memoryBatch struct {
	store *MemoryStore
	ops   []func()
	cols  []string
}

func (s *MemoryStore) Batch() WriteBatch {
	return &memoryBatch{store: s}
}

func (b *memoryBatch) Set(collection, id string, data map[string]any) {
	b.cols = append(b.cols, collection)
	b.ops = append(b.ops, func() {
		b.store.applySet(collection, id, data, false)
	})
}

func (b *memoryBatch) Update(collection, id string, updates []Update) {
	b.cols = append(b.cols, collection)
	b.ops = append(b.ops, func() {
		b.store.applyUpdates(collection, id, updates)
	})
}

func (b *memoryBatch) Commit(_ context.Context) error {
	b.store.mu.Lock()
	for _, op := range b.ops {
		op()
	}
	var notify []func()
	seen := make(map[string]bool)
	for _, col := range b.cols {
		if seen[col] {
			continue
		}
		seen[col] = true
		notify = append(notify, b.store.snapshotsLocked(col)...)
	}
	b.store.mu.Unlock()

	deliver(notify)
	return nil
}

// applySet and applyUpdates run with s.mu held.

func (s *MemoryStore) applySet(collection, id string, data map[string]any, merge bool) {
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		s.collections[collection] = col
	}

	target := col[id]
	if target == nil || !merge {
		target = make(map[string]any)
	}
	for field, value := range data {
		target[field] = s.resolveValue(target[field], value)
	}
	col[id] = target
}

func (s *MemoryStore) applyUpdates(collection, id string, updates []Update) {
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		s.collections[collection] = col
	}
	target := col[id]
	if target == nil {
		target = make(map[string]any)
	}
	for _, u := range updates {
		target[u.Field] = s.resolveValue(target[u.Field], u.Value)
	}
	col[id] = target
}

func (s *MemoryStore) resolveValue(existing, value any) any {
	if IsServerTimestamp(value) {
		return s.stamp()
	}
	if add, ok := ArrayUnionValues(value); ok {
		current := toStrings(existing)
		for _, v := range add {
			if !containsString(current, v) {
				current = append(current, v)
			}
		}
		return current
	}
	return value
}

func (s *MemoryStore) runQueryLocked(q Query) []Document {
	var out []Document
	for id, data := range s.collections[q.Collection] {
		if !matches(data, q.Filters) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := data[q.OrderBy]; !ok {
				continue
			}
		}
		out = append(out, Document{ID: id, Data: copyFields(data)})
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return lessValue(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

// snapshotsLocked recomputes every watcher on the collection and
// returns the deliveries to fire once the lock is released, so a
// callback may call back into the store. The commit's sequence number
// travels with each delivery for the per-watcher ordering guard.
func (s *MemoryStore) snapshotsLocked(collection string) []func() {
	var notify []func()
	s.deliverSeq++
	seq := s.deliverSeq
	for _, w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		notify = append(notify, w.delivery(seq, s.runQueryLocked(w.query)))
	}
	return notify
}

func deliver(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !equalValue(v, f.Value) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)) < 0
}

func copyFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for field, value := range data {
		if list, ok := value.([]string); ok {
			value = append([]string(nil), list...)
		}
		out[field] = value
	}
	return out
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
