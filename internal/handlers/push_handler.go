package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
)

type tokenStore interface {
	Upsert(ctx context.Context, userID, token, platform string) (*models.DeviceToken, error)
	Delete(ctx context.Context, token string) error
}

// PushHandler manages the device tokens browsers register after a
// granted notification permission.
type PushHandler struct {
	tokens tokenStore
}

type registerTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func NewPushHandler(tokens tokenStore) *PushHandler {
	return &PushHandler{tokens: tokens}
}

func (h *PushHandler) RegisterToken(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing identity"})
	}

	var req registerTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Token is required"})
	}
	if req.Platform == "" {
		req.Platform = "web"
	}

	token, err := h.tokens.Upsert(c.Context(), userID, req.Token, req.Platform)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to register token"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token})
}

func (h *PushHandler) DeleteToken(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Token is required"})
	}

	if err := h.tokens.Delete(c.Context(), token); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete token"})
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}
