package notify

import (
	"context"

	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

const notificationCollection = "notifications"

// StoreRenderer surfaces notifications by writing them into the
// document store, where every client's snapshot subscription picks
// them up. The tag is the document id, so a second notification with
// the same tag replaces the first instead of stacking.
type StoreRenderer struct {
	store store.Store
}

var _ Renderer = (*StoreRenderer)(nil)

func NewStoreRenderer(st store.Store) *StoreRenderer {
	return &StoreRenderer{store: st}
}

func (r *StoreRenderer) Show(ctx context.Context, n Rendered) error {
	return r.store.Set(ctx, notificationCollection, n.Tag, map[string]any{
		"title":     n.Title,
		"body":      n.Body,
		"image":     n.Image,
		"url":       n.URL,
		"actions":   n.Actions,
		"timestamp": store.ServerTimestamp(),
	}, false)
}

func (r *StoreRenderer) Close(ctx context.Context, tag string) error {
	// Closing clears the rendered fields rather than deleting the
	// document; subscribers treat an empty body as dismissed.
	return r.store.Set(ctx, notificationCollection, tag, map[string]any{
		"title":     "",
		"body":      "",
		"image":     "",
		"url":       "",
		"actions":   []string{},
		"timestamp": store.ServerTimestamp(),
	}, false)
}
