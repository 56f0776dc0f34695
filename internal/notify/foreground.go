package notify

import (
	"context"
	"log"
	"time"
)

// foregroundAutoClose is the fixed in-page auto-dismiss delay. The
// timer is not cancellable except by the notification's own close.
const foregroundAutoClose = 8 * time.Second

// Foreground renders in-page notifications for a client whose page is
// loaded. Rendering is gated on the client's notification permission
// and on the payload carrying a body.
type Foreground struct {
	renderer  Renderer
	autoClose time.Duration

	// test seam for the auto-dismiss timer
	after func(d time.Duration, fn func()) *time.Timer
}

func NewForeground(renderer Renderer) *Foreground {
	return &Foreground{
		renderer:  renderer,
		autoClose: foregroundAutoClose,
		after:     time.AfterFunc,
	}
}

// Deliver handles one push payload for a foreground client.
// permissionGranted mirrors the browser's Notification.permission.
// Returns whether a notification was rendered; failures are logged and
// swallowed, never propagated into message delivery.
func (f *Foreground) Deliver(ctx context.Context, permissionGranted bool, raw []byte) bool {
	payload, err := ParsePayload(raw)
	if err != nil {
		log.Printf("notify: malformed foreground payload: %v", err)
		return false
	}
	if !permissionGranted {
		return false
	}
	if payload.Body() == "" {
		return false
	}

	n := Rendered{
		Tag:   NotificationTag,
		Title: payload.Title(),
		Body:  payload.Body(),
		Image: payload.Image(),
		URL:   payload.URL(),
	}
	if err := f.renderer.Show(ctx, n); err != nil {
		log.Printf("notify: foreground render: %v", err)
		return false
	}

	f.after(f.autoClose, func() {
		if err := f.renderer.Close(context.Background(), n.Tag); err != nil {
			log.Printf("notify: auto-close: %v", err)
		}
	})
	return true
}
