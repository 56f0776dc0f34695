package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jeuxBackend/carchive-chat-backend/internal/config"
	"github.com/jeuxBackend/carchive-chat-backend/internal/database"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
	"github.com/jeuxBackend/carchive-chat-backend/internal/routes"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
	fsstore "github.com/jeuxBackend/carchive-chat-backend/internal/store/firestore"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	// 3. Document store: Firestore in production, in-process otherwise
	var docStore store.Store
	if cfg.FirestoreProject != "" {
		fs, err := fsstore.Connect(context.Background(), cfg.FirestoreProject)
		if err != nil {
			log.Fatalf("Failed to connect to Firestore: %v", err)
		}
		defer fs.Close()
		docStore = fs
	} else {
		log.Println("FIRESTORE_PROJECT not set, using in-process document store")
		docStore = store.NewMemoryStore()
	}

	// 4. Shared presence and push queue, both optional without Redis
	deps := routes.Dependencies{DB: database.DB, Store: docStore}
	if cfg.RedisURL != "" {
		registry, err := presence.ConnectRegistry(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect presence registry: %v", err)
		}
		defer registry.Close()
		deps.Registry = registry

		enqueuer, err := notify.NewEnqueuer(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to create push enqueuer: %v", err)
		}
		defer enqueuer.Close()
		deps.Enqueuer = enqueuer
	} else {
		log.Println("REDIS_URL not set, presence sharing and background pushes disabled")
	}

	// 5. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(app, cfg, deps); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	// 6. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
