package models

import "time"

// Read state of a message. The only transition is unread -> read.
const (
	MessageUnread = "unread"
	MessageRead   = "read"
)

// SystemSenderID marks messages authored by the platform itself; bulk
// read-marking skips them.
const SystemSenderID = "system"

type Conversation struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
}

type Message struct {
	ID            string    `json:"id"`
	Body          string    `json:"body"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	ReadStatus    string    `json:"read_status"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	AttachmentExt string    `json:"attachment_ext,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DirectoryEntry is the cached profile projection shown next to a
// conversation. Owned externally; this service only appends to
// InboxIDs.
type DirectoryEntry struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Image    string   `json:"image"`
	Role     string   `json:"role"`
	Status   string   `json:"status"`
	InboxIDs []string `json:"inbox_ids"`
}

type ConversationSummary struct {
	Conversation
	UnreadCount int             `json:"unread_count"`
	Other       *DirectoryEntry `json:"other,omitempty"`
}

type DeviceToken struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
