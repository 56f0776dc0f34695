package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jeuxBackend/carchive-chat-backend/internal/config"
	"github.com/jeuxBackend/carchive-chat-backend/internal/handlers"
	"github.com/jeuxBackend/carchive-chat-backend/internal/middleware"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
	"github.com/jeuxBackend/carchive-chat-backend/internal/repository"
	"github.com/jeuxBackend/carchive-chat-backend/internal/services"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
	chatws "github.com/jeuxBackend/carchive-chat-backend/internal/websocket"
)

// Dependencies are the shared resources main constructs once.
// Registry and Enqueuer are nil when no Redis is configured; the chat
// surface still works, only cross-process presence and background
// pushes degrade.
type Dependencies struct {
	DB       *pgxpool.Pool
	Store    store.Store
	Registry presence.Registry
	Enqueuer *notify.Enqueuer
}

func RegisterRoutes(app *fiber.App, _ *config.Config, deps Dependencies) error {
	chatRepo := repository.NewChatRepository(deps.Store)
	tokenRepo := repository.NewTokenRepository(deps.DB)

	tracker := presence.NewTracker(deps.Registry)

	var hub *chatws.Hub
	if deps.Enqueuer != nil {
		hub = chatws.NewHub(tracker, services.NewPushService(tokenRepo, deps.Enqueuer))
	} else {
		hub = chatws.NewHub(tracker, nil)
	}
	go hub.Run()

	chatHandler := handlers.NewChatHandler(chatRepo, hub)
	pushHandler := handlers.NewPushHandler(tokenRepo)

	api := app.Group("/api/v1", middleware.Identity())

	conversations := api.Group("/conversations")
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/resolve", chatHandler.ResolveConversation)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkConversationRead)

	push := api.Group("/push")
	push.Post("/tokens", pushHandler.RegisterToken)
	push.Delete("/tokens/:token", pushHandler.DeleteToken)

	app.Get("/ws/chat", chatHandler.WebSocketAuth, websocket.New(chatHandler.HandleWebSocket))

	return nil
}
