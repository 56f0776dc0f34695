package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
	"github.com/jeuxBackend/carchive-chat-backend/internal/repository"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

type stubChatService struct {
	resolveResult    string
	resolveErr       error
	initializeResult string
	initializeErr    error
	sendErr          error
	markErr          error

	lastUserA      string
	lastUserB      string
	lastSender     string
	lastReceiver   string
	lastBody       string
	lastConvID     string
	lastAttachment *repository.Attachment
}

func (s *stubChatService) ResolveConversationID(_ context.Context, a, b string) (string, error) {
	s.lastUserA = a
	s.lastUserB = b
	return s.resolveResult, s.resolveErr
}

func (s *stubChatService) InitializeConversation(_ context.Context, sender, receiver, _ string) (string, error) {
	s.lastSender = sender
	s.lastReceiver = receiver
	return s.initializeResult, s.initializeErr
}

func (s *stubChatService) SendMessage(_ context.Context, convID, sender, receiver, body string, attachment *repository.Attachment) error {
	s.lastConvID = convID
	s.lastSender = sender
	s.lastReceiver = receiver
	s.lastBody = body
	s.lastAttachment = attachment
	return s.sendErr
}

func (s *stubChatService) MarkAllRead(_ context.Context, convID string, done func()) error {
	s.lastConvID = convID
	if s.markErr == nil && done != nil {
		done()
	}
	return s.markErr
}

func (s *stubChatService) SubscribeMessages(_ context.Context, _ string, _ func([]models.Message), _ func(error)) (store.CancelFunc, error) {
	return func() {}, nil
}

func (s *stubChatService) SubscribeConversations(_ context.Context, _ string, _ func([]models.ConversationSummary)) (store.CancelFunc, error) {
	return func() {}, nil
}

func newChatTestApp(service *stubChatService) *fiber.App {
	handler := NewChatHandler(service, nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "42")
		return c.Next()
	})
	app.Post("/api/v1/conversations", handler.CreateConversation)
	app.Get("/api/v1/conversations/resolve", handler.ResolveConversation)
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)
	app.Post("/api/v1/conversations/:id/read", handler.MarkConversationRead)
	return app
}

func TestCreateConversationReturnsConversationID(t *testing.T) {
	service := &stubChatService{initializeResult: "42_8"}
	app := newChatTestApp(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations",
		strings.NewReader(`{"receiver_id":"8","initial_message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastSender != "42" || service.lastReceiver != "8" {
		t.Fatalf("unexpected participants: %q %q", service.lastSender, service.lastReceiver)
	}

	var body struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.ConversationID != "42_8" {
		t.Fatalf("expected 42_8, got %q", body.ConversationID)
	}
}

func TestResolveConversationMapsNotFound(t *testing.T) {
	service := &stubChatService{resolveErr: repository.ErrConversationNotFound}
	app := newChatTestApp(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/resolve?user_a=7&user_b=12", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if service.lastUserA != "7" || service.lastUserB != "12" {
		t.Fatalf("unexpected pair: %q %q", service.lastUserA, service.lastUserB)
	}
}

func TestSendMessageMapsInvalidArgument(t *testing.T) {
	service := &stubChatService{sendErr: repository.ErrInvalidArgument}
	app := newChatTestApp(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/7_12/messages",
		strings.NewReader(`{"receiver_id":"7","body":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendMessagePassesAttachment(t *testing.T) {
	service := &stubChatService{}
	app := newChatTestApp(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/7_12/messages",
		strings.NewReader(`{"receiver_id":"7","body":"see photo","attachment_url":"https://cdn/x.png","attachment_ext":"png"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastConvID != "7_12" || service.lastBody != "see photo" {
		t.Fatalf("unexpected call: %q %q", service.lastConvID, service.lastBody)
	}
	if service.lastAttachment == nil || service.lastAttachment.URL != "https://cdn/x.png" || service.lastAttachment.Ext != "png" {
		t.Fatalf("unexpected attachment: %+v", service.lastAttachment)
	}
}

func TestMarkConversationRead(t *testing.T) {
	service := &stubChatService{}
	app := newChatTestApp(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/7_12/read", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConvID != "7_12" {
		t.Fatalf("unexpected conversation id %q", service.lastConvID)
	}
}
