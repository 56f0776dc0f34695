package notify

import (
	"context"
	"log"

	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
)

// Actions offered on an OS-level notification. Open focuses an
// existing client on the app origin or opens a new one; dismiss only
// closes the notification.
const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// Rendered is a notification handed to a Renderer.
type Rendered struct {
	Tag     string   `json:"tag"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Image   string   `json:"image,omitempty"`
	URL     string   `json:"url,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// Renderer surfaces notifications to whatever display the process has.
// Show with an already-shown tag replaces the previous notification.
type Renderer interface {
	Show(ctx context.Context, n Rendered) error
	Close(ctx context.Context, tag string) error
}

// Policy controls whether the background half still shows a
// notification while some client is visible. Showing unconditionally
// is the default; suppression is a product switch.
type Policy struct {
	SuppressWhenVisible bool
}

// Gateway is the background half. It consumes queued push payloads,
// consults shared presence, and renders. It never writes presence
// state.
type Gateway struct {
	registry presence.Registry
	renderer Renderer
	policy   Policy
}

func NewGateway(registry presence.Registry, renderer Renderer, policy Policy) *Gateway {
	return &Gateway{
		registry: registry,
		renderer: renderer,
		policy:   policy,
	}
}

// HandlePush processes one push delivery. Malformed payloads fall back
// to default strings; render failures are logged and swallowed so the
// delivery pipeline never crashes or retries on a display problem.
func (g *Gateway) HandlePush(ctx context.Context, raw []byte) error {
	payload, err := ParsePayload(raw)
	if err != nil {
		log.Printf("notify: malformed push payload: %v", err)
	}

	clients, err := g.registry.Clients(ctx)
	if err != nil {
		log.Printf("notify: list clients: %v", err)
	}
	visible, err := g.registry.AnyVisible(ctx)
	if err != nil {
		log.Printf("notify: visibility check: %v", err)
	}
	log.Printf("notify: push delivery, %d connected clients, visible=%v", len(clients), visible)

	if g.policy.SuppressWhenVisible && visible {
		return nil
	}

	body := payload.Body()
	if body == "" {
		body = DefaultBody
	}
	n := Rendered{
		Tag:     NotificationTag,
		Title:   payload.Title(),
		Body:    body,
		Image:   payload.Image(),
		URL:     payload.URL(),
		Actions: []string{ActionOpen, ActionDismiss},
	}
	if err := g.renderer.Show(ctx, n); err != nil {
		log.Printf("notify: render notification: %v", err)
	}
	return nil
}
