// Package notify is the push notification gateway: a background half
// that runs in the detached worker and decides whether to surface a
// notification for a queued push payload, and a foreground half that
// renders in-page notifications for connected clients.
package notify

import "encoding/json"

// Fixed fallbacks when a payload arrives without a notification block.
const (
	DefaultTitle = "New Message"
	DefaultBody  = "You have a new message"
)

// NotificationTag is the static tag on every rendered notification: a
// second notification replaces the first instead of stacking.
const NotificationTag = "chat"

// Payload is the push channel's wire shape. Both fields are optional
// and handling must never fail on their absence.
type Payload struct {
	Notification *NotificationFields `json:"notification,omitempty"`
	Data         map[string]string   `json:"data,omitempty"`
}

type NotificationFields struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

// ParsePayload decodes raw push bytes. A malformed payload yields the
// zero Payload and the decode error; callers log it and fall back to
// defaults rather than dropping the delivery.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Title returns the payload title or the fixed default.
func (p Payload) Title() string {
	if p.Notification != nil && p.Notification.Title != "" {
		return p.Notification.Title
	}
	return DefaultTitle
}

// Body returns the payload body, or "" when none was carried.
func (p Payload) Body() string {
	if p.Notification == nil {
		return ""
	}
	return p.Notification.Body
}

// Image returns the payload image URL, or "".
func (p Payload) Image() string {
	if p.Notification == nil {
		return ""
	}
	return p.Notification.Image
}

// URL returns the navigation target carried in the data block, or "".
func (p Payload) URL() string {
	return p.Data["url"]
}
