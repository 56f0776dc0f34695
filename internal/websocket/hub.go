package chatws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
	"github.com/jeuxBackend/carchive-chat-backend/internal/repository"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

// Hub routes frames between connected chat clients, feeds the presence
// tracker, and fans push payloads out to foreground clients. Clients
// with no connected session get their payload queued for the
// background worker instead.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	pushes     chan *pushRequest

	tracker    *presence.Tracker
	foreground *notify.Foreground
	pusher     pusher
}

// pusher queues a payload for the detached worker. Optional: a nil
// pusher drops deliveries for users with no connected client.
type pusher interface {
	EnqueuePush(ctx context.Context, userID string, payload notify.Payload) error
}

type pushRequest struct {
	userID  string
	payload notify.Payload
}

// Client is one websocket session. Its handle feeds the presence
// registry; its permission flag gates foreground notifications.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	id       string
	userID   string
	granted  atomic.Bool
	teardown []store.CancelFunc

	// Store watch callbacks may still be in flight when the client
	// tears down, so every send goes through enqueue, which checks the
	// closed flag under sendMu. Writing to send directly can race a
	// concurrent close.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan []byte
}

// enqueue hands a payload to the write pump without blocking. Payloads
// for a torn-down client and payloads that would overflow the buffer
// are dropped.
func (c *Client) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// closeSend ends the write pump. Safe to call more than once.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func NewHub(tracker *presence.Tracker, p pusher) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pushes:     make(chan *pushRequest, 64),
		tracker:    tracker,
		pusher:     p,
	}
	h.foreground = notify.NewForeground(&frameRenderer{hub: h})
	return h
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.tracker.Connect(context.Background(), client.id)
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				client.closeSend()
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
			h.tracker.Disconnect(context.Background(), client.id)
		case req := <-h.pushes:
			h.deliverPush(req)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NotifyUser routes a push payload: foreground clients render it in
// page; a user with no session gets it queued for the worker.
func (h *Hub) NotifyUser(userID string, payload notify.Payload) {
	h.pushes <- &pushRequest{userID: userID, payload: payload}
}

func (h *Hub) deliverPush(req *pushRequest) {
	raw, err := json.Marshal(req.payload)
	if err != nil {
		log.Printf("chat hub: encode push payload: %v", err)
		return
	}

	delivered := false
	for client := range h.clients[req.userID] {
		if h.foreground.Deliver(clientContext(client), client.granted.Load(), raw) {
			delivered = true
		}
	}
	if delivered || h.pusher == nil {
		return
	}

	go func() {
		if err := h.pusher.EnqueuePush(context.Background(), req.userID, req.payload); err != nil {
			log.Printf("chat hub: enqueue push: %v", err)
		}
	}()
}

// clientContext tags a context with the render target so frameRenderer
// can route the frame to one session.
type renderTargetKey struct{}

func clientContext(c *Client) context.Context {
	return context.WithValue(context.Background(), renderTargetKey{}, c)
}

// frameRenderer satisfies notify.Renderer by pushing notification
// frames down the targeted client's send channel.
type frameRenderer struct {
	hub *Hub
}

func (r *frameRenderer) Show(ctx context.Context, n notify.Rendered) error {
	return r.send(ctx, Frame{Type: "notification", Notification: &n})
}

func (r *frameRenderer) Close(ctx context.Context, tag string) error {
	return r.send(ctx, Frame{Type: "notification_closed", Tag: tag})
}

func (r *frameRenderer) send(ctx context.Context, frame Frame) error {
	client, _ := ctx.Value(renderTargetKey{}).(*Client)
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	client.enqueue(payload)
	return nil
}

// Frame is the wire shape of every message between hub and page.
type Frame struct {
	Type           string                       `json:"type"`
	ConversationID string                       `json:"conversation_id,omitempty"`
	ReceiverID     string                       `json:"receiver_id,omitempty"`
	Content        string                       `json:"content,omitempty"`
	Visible        *bool                        `json:"visible,omitempty"`
	Granted        *bool                        `json:"granted,omitempty"`
	Tag            string                       `json:"tag,omitempty"`
	Messages       []models.Message             `json:"messages,omitempty"`
	Conversations  []models.ConversationSummary `json:"conversations,omitempty"`
	Notification   *notify.Rendered             `json:"notification,omitempty"`
}

// chatAPI is the slice of the chat repository the socket needs.
type chatAPI interface {
	SendMessage(ctx context.Context, conversationID, senderID, receiverID, body string, attachment *repository.Attachment) error
	SubscribeMessages(ctx context.Context, conversationID string, onUpdate func([]models.Message), onErr func(error)) (store.CancelFunc, error)
	SubscribeConversations(ctx context.Context, userID string, onUpdate func([]models.ConversationSummary)) (store.CancelFunc, error)
	MarkAllRead(ctx context.Context, conversationID string, done func()) error
}

// ReadPump consumes frames from the page until the connection drops or
// an unload frame arrives. Live subscriptions opened here are
// cancelled on teardown; double cancellation is safe by contract.
func (c *Client) ReadPump(service chatAPI) {
	msgSubs := make(map[string]store.CancelFunc)

	defer func() {
		for _, cancel := range msgSubs {
			cancel()
		}
		for _, cancel := range c.teardown {
			cancel()
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	ctx := context.Background()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.writeError("invalid frame")
			continue
		}

		switch frame.Type {
		case "message":
			err := service.SendMessage(ctx, frame.ConversationID, c.userID, frame.ReceiverID, frame.Content, nil)
			if err != nil {
				c.writeError("failed to send message")
				continue
			}
			c.hub.NotifyUser(frame.ReceiverID, notify.Payload{
				Notification: &notify.NotificationFields{
					Title: notify.DefaultTitle,
					Body:  frame.Content,
				},
				Data: map[string]string{
					"url":      "/chat/" + frame.ConversationID,
					"senderId": c.userID,
				},
			})
		case "subscribe_messages":
			if _, ok := msgSubs[frame.ConversationID]; ok {
				continue
			}
			conversationID := frame.ConversationID
			cancel, err := service.SubscribeMessages(ctx, conversationID, func(messages []models.Message) {
				c.writeFrame(Frame{Type: "messages", ConversationID: conversationID, Messages: messages})
			}, func(err error) {
				log.Printf("chat hub: message subscription %s: %v", conversationID, err)
			})
			if err != nil {
				c.writeError("invalid conversation id")
				continue
			}
			msgSubs[conversationID] = cancel
		case "unsubscribe_messages":
			if cancel, ok := msgSubs[frame.ConversationID]; ok {
				cancel()
				delete(msgSubs, frame.ConversationID)
			}
		case "subscribe_conversations":
			cancel, err := service.SubscribeConversations(ctx, c.userID, func(list []models.ConversationSummary) {
				c.writeFrame(Frame{Type: "conversations", Conversations: list})
			})
			if err != nil {
				c.writeError("failed to subscribe")
				continue
			}
			c.teardown = append(c.teardown, cancel)
		case "mark_read":
			if err := service.MarkAllRead(ctx, frame.ConversationID, nil); err != nil {
				c.writeError("failed to mark conversation read")
			}
		case "visibility":
			if frame.Visible != nil {
				c.hub.tracker.SetVisible(ctx, c.id, *frame.Visible)
			}
		case "focus":
			c.hub.tracker.SetFocused(ctx, c.id, true)
		case "blur":
			c.hub.tracker.SetFocused(ctx, c.id, false)
		case "permission":
			if frame.Granted != nil {
				c.granted.Store(*frame.Granted)
			}
		case "unload":
			return
		default:
			c.writeError("unsupported frame type")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) writeFrame(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chat hub: encode frame: %v", err)
		return
	}
	c.enqueue(payload)
}

func (c *Client) writeError(message string) {
	c.writeFrame(Frame{Type: "error", Content: message})
}
