package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/jeuxBackend/carchive-chat-backend/internal/config"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
	fsstore "github.com/jeuxBackend/carchive-chat-backend/internal/store/firestore"
)

// The worker is the detached half of the push notification gateway: it
// runs with its own lifecycle, consumes queued push payloads, reads
// shared presence, and renders notifications. It never mutates
// presence state.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	registry, err := presence.ConnectRegistry(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect presence registry: %v", err)
	}
	defer registry.Close()

	// Fresh start: stale client handles from a previous run must not
	// count as presence.
	if err := registry.Clear(context.Background()); err != nil {
		log.Printf("Failed to clear presence registry: %v", err)
	}

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

	gateway := notify.NewGateway(
		registry,
		notify.NewStoreRenderer(docStore),
		notify.Policy{SuppressWhenVisible: cfg.SuppressWhenVisible},
	)

	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse REDIS_URL: %v", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Printf("worker: task %s failed: %v", task.Type(), err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskTypePushDeliver, gateway)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Worker failed to start: %v", err)
	}
	log.Println("Push worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Push worker shutting down")
	srv.Shutdown()
}
