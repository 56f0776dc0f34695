package handlers

import (
	"context"
	"errors"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/repository"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
	chatws "github.com/jeuxBackend/carchive-chat-backend/internal/websocket"
)

type chatService interface {
	ResolveConversationID(ctx context.Context, userA, userB string) (string, error)
	InitializeConversation(ctx context.Context, senderID, receiverID, initialMessage string) (string, error)
	SendMessage(ctx context.Context, conversationID, senderID, receiverID, body string, attachment *repository.Attachment) error
	MarkAllRead(ctx context.Context, conversationID string, done func()) error
	SubscribeMessages(ctx context.Context, conversationID string, onUpdate func([]models.Message), onErr func(error)) (store.CancelFunc, error)
	SubscribeConversations(ctx context.Context, userID string, onUpdate func([]models.ConversationSummary)) (store.CancelFunc, error)
}

type ChatHandler struct {
	service chatService
	hub     *chatws.Hub
}

type createConversationRequest struct {
	ReceiverID     string `json:"receiver_id"`
	InitialMessage string `json:"initial_message"`
}

type sendMessageRequest struct {
	ReceiverID    string `json:"receiver_id"`
	Body          string `json:"body"`
	AttachmentURL string `json:"attachment_url"`
	AttachmentExt string `json:"attachment_ext"`
}

func NewChatHandler(service chatService, hub *chatws.Hub) *ChatHandler {
	return &ChatHandler{
		service: service,
		hub:     hub,
	}
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing identity"})
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversationID, err := h.service.InitializeConversation(c.Context(), userID, req.ReceiverID, req.InitialMessage)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation_id": conversationID})
}

func (h *ChatHandler) ResolveConversation(c *fiber.Ctx) error {
	userA := strings.TrimSpace(c.Query("user_a"))
	userB := strings.TrimSpace(c.Query("user_b"))

	conversationID, err := h.service.ResolveConversationID(c.Context(), userA, userB)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation_id": conversationID})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing identity"})
	}

	conversationID := c.Params("id")

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var attachment *repository.Attachment
	if req.AttachmentURL != "" {
		attachment = &repository.Attachment{URL: req.AttachmentURL, Ext: req.AttachmentExt}
	}

	err := h.service.SendMessage(c.Context(), conversationID, userID, req.ReceiverID, req.Body, attachment)
	if err != nil {
		return mapChatError(c, err)
	}

	if h.hub != nil {
		h.hub.NotifyUser(req.ReceiverID, notify.Payload{
			Notification: &notify.NotificationFields{
				Title: notify.DefaultTitle,
				Body:  strings.TrimSpace(req.Body),
			},
			Data: map[string]string{
				"url":      "/chat/" + conversationID,
				"senderId": userID,
			},
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "sent"})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	if err := h.service.MarkAllRead(c.Context(), conversationID, nil); err != nil {
		return mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID, _ = c.Locals("user_id").(string)
	}
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing identity"})
	}

	c.Locals("user_id", userID)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	client := chatws.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrInvalidArgument):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, repository.ErrConversationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
