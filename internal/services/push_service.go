package services

import (
	"context"
	"fmt"
	"log"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
)

type tokenReader interface {
	ListForUser(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

type payloadEnqueuer interface {
	EnqueuePush(ctx context.Context, payload notify.Payload) error
}

// PushService decides whether a recipient can be reached over the push
// channel at all: a user who never registered a device token has no
// push target, so nothing is queued for the worker.
type PushService struct {
	tokens   tokenReader
	enqueuer payloadEnqueuer
}

func NewPushService(tokens tokenReader, enqueuer payloadEnqueuer) *PushService {
	return &PushService{
		tokens:   tokens,
		enqueuer: enqueuer,
	}
}

func (s *PushService) EnqueuePush(ctx context.Context, userID string, payload notify.Payload) error {
	tokens, err := s.tokens.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list device tokens for %s: %w", userID, err)
	}
	if len(tokens) == 0 {
		log.Printf("push: no device token for user %s, dropping delivery", userID)
		return nil
	}

	if payload.Data == nil {
		payload.Data = make(map[string]string)
	}
	payload.Data["userId"] = userID

	return s.enqueuer.EnqueuePush(ctx, payload)
}
