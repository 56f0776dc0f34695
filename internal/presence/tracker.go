// Package presence tracks which UI clients are connected and whether
// any of them is the visible, focused one. The tracker is the only
// writer of this state; the notification gateway only reads it.
package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

// Signals relayed to the background worker on active-flag transitions.
const (
	SignalConnected    = "CLIENT_CONNECTED"
	SignalDisconnected = "CLIENT_DISCONNECTED"
)

type Signal struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry is the store of presence state shared with the detached
// worker process. Implementations tolerate duplicate connect and
// disconnect signals (set semantics).
type Registry interface {
	ClientConnected(ctx context.Context, clientID string) error
	ClientDisconnected(ctx context.Context, clientID string) error
	SetActive(ctx context.Context, active bool) error
	Clients(ctx context.Context) ([]string, error)
	AnyVisible(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

type clientState struct {
	visible bool
	focused bool
}

// Tracker recomputes the active flag from per-client visibility and
// focus events and relays transitions to the shared registry. All
// mutation goes through its methods; there are no other writers.
type Tracker struct {
	mu       sync.Mutex
	clients  map[string]*clientState
	active   bool
	registry Registry
}

// NewTracker builds a tracker. registry may be nil when no worker
// process needs the state (tests, single-process runs).
func NewTracker(registry Registry) *Tracker {
	return &Tracker{
		clients:  make(map[string]*clientState),
		registry: registry,
	}
}

// Connect registers a client handle. A freshly connected page is
// visible and focused until it reports otherwise.
func (t *Tracker) Connect(ctx context.Context, clientID string) {
	t.mu.Lock()
	t.clients[clientID] = &clientState{visible: true, focused: true}
	t.recomputeLocked(ctx)
	t.mu.Unlock()

	if t.registry != nil {
		if err := t.registry.ClientConnected(ctx, clientID); err != nil {
			log.Printf("presence: register client %s: %v", clientID, err)
		}
	}
}

// Disconnect removes a client handle (page closed or unloaded).
// Unknown handles are ignored, so duplicate unload events are safe.
func (t *Tracker) Disconnect(ctx context.Context, clientID string) {
	t.mu.Lock()
	delete(t.clients, clientID)
	t.recomputeLocked(ctx)
	t.mu.Unlock()

	if t.registry != nil {
		if err := t.registry.ClientDisconnected(ctx, clientID); err != nil {
			log.Printf("presence: deregister client %s: %v", clientID, err)
		}
	}
}

// SetVisible records a visibility-change event for the client.
func (t *Tracker) SetVisible(ctx context.Context, clientID string, visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.clients[clientID]; ok {
		state.visible = visible
		t.recomputeLocked(ctx)
	}
}

// SetFocused records a focus or blur event for the client.
func (t *Tracker) SetFocused(ctx context.Context, clientID string, focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.clients[clientID]; ok {
		state.focused = focused
		if focused {
			state.visible = true
		}
		t.recomputeLocked(ctx)
	}
}

// Active reports whether any client is both visible and focused.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// ClientCount reports the number of connected client handles.
func (t *Tracker) ClientCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// recomputeLocked updates the active flag and, only on a transition,
// mirrors it to the registry. Runs with t.mu held.
func (t *Tracker) recomputeLocked(ctx context.Context) {
	active := false
	for _, state := range t.clients {
		if state.visible && state.focused {
			active = true
			break
		}
	}
	if active == t.active {
		return
	}
	t.active = active

	if t.registry != nil {
		if err := t.registry.SetActive(ctx, active); err != nil {
			log.Printf("presence: set active=%v: %v", active, err)
		}
	}
}
