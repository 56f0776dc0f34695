// Package store defines the realtime document store contract the chat
// core is built against. The store itself is an external collaborator
// (Firestore in production, an in-process implementation in tests);
// this package only names the operations the core depends on: document
// CRUD, atomic create-if-absent, batched writes, and live query
// snapshots.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the document id is taken.
	ErrAlreadyExists = errors.New("document already exists")
)

// Document is a stored record: its id within the collection plus its
// field map as the store last observed it.
type Document struct {
	ID   string
	Data map[string]any
}

// String returns the named field as a string, or "" when absent or of
// another type.
func (d Document) String(field string) string {
	v, _ := d.Data[field].(string)
	return v
}

// Time returns the named field as a time.Time, or the zero time.
func (d Document) Time(field string) time.Time {
	v, _ := d.Data[field].(time.Time)
	return v
}

// Strings returns the named field as a string slice. Stores that
// round-trip through JSON may hand back []any; both shapes are
// accepted.
func (d Document) Strings(field string) []string {
	switch v := d.Data[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// serverTimestamp is the sentinel replaced by the store's own clock at
// commit time. Message ordering is defined by this value, never by the
// writer's local clock.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be set to the store's arbitration
// timestamp when the write commits.
func ServerTimestamp() any { return serverTimestamp{} }

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
// Store implementations use it when applying writes.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// arrayUnion is the sentinel for an idempotent append to an array field.
type arrayUnion struct{ values []string }

// ArrayUnion marks a field update that appends the given values to an
// array field, skipping values already present.
func ArrayUnion(values ...string) any { return arrayUnion{values: values} }

// ArrayUnionValues extracts the values from an ArrayUnion sentinel,
// reporting whether v is one.
func ArrayUnionValues(v any) ([]string, bool) {
	u, ok := v.(arrayUnion)
	if !ok {
		return nil, false
	}
	return u.values, true
}

// Update names one field mutation applied by Update or a batch.
type Update struct {
	Field string
	Value any
}

// Filter is an equality constraint on a query.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection, optionally filtered and
// ordered ascending by a field.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
}

// CancelFunc stops a live subscription and releases its listener.
// Implementations must make it safe to call more than once.
type CancelFunc func()

// WriteBatch stages writes that Commit applies atomically: a reader
// never observes some of the batch without the rest.
type WriteBatch interface {
	Set(collection, id string, data map[string]any)
	Update(collection, id string, updates []Update)
	Commit(ctx context.Context) error
}

// Store is the document store contract.
type Store interface {
	// Get fetches one document, ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes the full document. With merge true, absent fields keep
	// their stored values.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error

	// Update applies field mutations to an existing document.
	Update(ctx context.Context, collection, id string, updates []Update) error

	// Create writes the document only if the id is not taken, as one
	// atomic step. ErrAlreadyExists otherwise.
	Create(ctx context.Context, collection, id string, data map[string]any) error

	// GetAll runs the query once and returns the matching documents.
	GetAll(ctx context.Context, q Query) ([]Document, error)

	// Watch delivers the full ordered result set of q to onNext now and
	// again after every change, until cancelled. Errors go to onErr
	// without ending the subscription. The returned cancel is
	// idempotent.
	Watch(ctx context.Context, q Query, onNext func([]Document), onErr func(error)) (CancelFunc, error)

	// Batch stages writes for an atomic commit.
	Batch() WriteBatch
}
