// Package firestore adapts cloud.google.com/go/firestore to the
// store.Store contract.
package firestore

import (
	"context"
	"fmt"
	"sync"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

type Store struct {
	client *gfs.Client
}

func New(client *gfs.Client) *Store {
	return &Store{client: client}
}

var _ store.Store = (*Store)(nil)

// Connect dials Firestore for the given project.
func Connect(ctx context.Context, projectID string) (*Store, error) {
	client, err := gfs.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect: %w", err)
	}
	return New(client), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("firestore: get %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	var opts []gfs.SetOption
	if merge {
		opts = append(opts, gfs.MergeAll)
	}
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, encodeFields(data), opts...)
	if err != nil {
		return fmt.Errorf("firestore: set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, updates []store.Update) error {
	encoded := make([]gfs.Update, 0, len(updates))
	for _, u := range updates {
		encoded = append(encoded, gfs.Update{Path: u.Field, Value: encodeValue(u.Value)})
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, encoded)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore: update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, data map[string]any) error {
	// Doc.Create is the server-side create-if-absent primitive; two
	// concurrent callers race inside Firestore, not in this process.
	_, err := s.client.Collection(collection).Doc(id).Create(ctx, encodeFields(data))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("firestore: create %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context, q store.Query) ([]store.Document, error) {
	it := s.buildQuery(q).Documents(ctx)
	defer it.Stop()

	var out []store.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query %s: %w", q.Collection, err)
		}
		out = append(out, store.Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
}

func (s *Store) Watch(ctx context.Context, q store.Query, onNext func([]store.Document), onErr func(error)) (store.CancelFunc, error) {
	watchCtx, stop := context.WithCancel(ctx)
	snaps := s.buildQuery(q).Snapshots(watchCtx)

	go func() {
		for {
			snap, err := snaps.Next()
			if status.Code(err) == codes.Canceled {
				return
			}
			if err != nil {
				onErr(err)
				return
			}
			docs := make([]store.Document, 0, snap.Size)
			for {
				doc, err := snap.Documents.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					onErr(err)
					return
				}
				docs = append(docs, store.Document{ID: doc.Ref.ID, Data: doc.Data()})
			}
			onNext(docs)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			snaps.Stop()
		})
	}
	return cancel, nil
}

type batch struct {
	store *Store
	wb    *gfs.WriteBatch
}

func (s *Store) Batch() store.WriteBatch {
	return &batch{store: s, wb: s.client.Batch()}
}

func (b *batch) Set(collection, id string, data map[string]any) {
	b.wb.Set(b.store.client.Collection(collection).Doc(id), encodeFields(data))
}

func (b *batch) Update(collection, id string, updates []store.Update) {
	encoded := make([]gfs.Update, 0, len(updates))
	for _, u := range updates {
		encoded = append(encoded, gfs.Update{Path: u.Field, Value: encodeValue(u.Value)})
	}
	b.wb.Update(b.store.client.Collection(collection).Doc(id), encoded)
}

func (b *batch) Commit(ctx context.Context) error {
	if _, err := b.wb.Commit(ctx); err != nil {
		return fmt.Errorf("firestore: commit batch: %w", err)
	}
	return nil
}

func (s *Store) buildQuery(q store.Query) gfs.Query {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		query = query.OrderBy(q.OrderBy, gfs.Asc)
	}
	return query
}

func encodeFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for field, value := range data {
		out[field] = encodeValue(value)
	}
	return out
}

func encodeValue(v any) any {
	if store.IsServerTimestamp(v) {
		return gfs.ServerTimestamp
	}
	if values, ok := store.ArrayUnionValues(v); ok {
		asAny := make([]any, len(values))
		for i, s := range values {
			asAny[i] = s
		}
		return gfs.ArrayUnion(asAny...)
	}
	return v
}
