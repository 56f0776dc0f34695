package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeuxBackend/carchive-chat-backend/internal/models"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

const (
	conversationCollection = "chats"
	directoryCollection    = "users"
)

func messageCollection(conversationID string) string {
	return conversationCollection + "/" + conversationID + "/messages"
}

// Attachment is an optional file reference carried by a message.
type Attachment struct {
	URL string
	Ext string
}

// ChatRepository owns conversation identity, message append and read
// state, and the live views the UI subscribes to. It is the only
// component allowed to construct conversation keys: a pair (A, B) has
// two candidate keys, A_B and B_A, and whichever was created first is
// canonical for the life of the conversation.
type ChatRepository struct {
	store store.Store

	// Serializes conversation creation per unordered pair so two
	// concurrent initializations cannot create both candidate keys.
	pairMu sync.Mutex
	pairs  map[string]*sync.Mutex
}

func NewChatRepository(st store.Store) *ChatRepository {
	return &ChatRepository{
		store: st,
		pairs: make(map[string]*sync.Mutex),
	}
}

func (r *ChatRepository) pairLock(a, b string) *sync.Mutex {
	key := a + "|" + b
	if b < a {
		key = b + "|" + a
	}
	r.pairMu.Lock()
	defer r.pairMu.Unlock()
	mu, ok := r.pairs[key]
	if !ok {
		mu = &sync.Mutex{}
		r.pairs[key] = mu
	}
	return mu
}

// ResolveConversationID probes both candidate keys for the pair and
// returns whichever exists, else ErrConversationNotFound.
func (r *ChatRepository) ResolveConversationID(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", fmt.Errorf("resolve conversation: %w", ErrInvalidArgument)
	}

	for _, candidate := range []string{userA + "_" + userB, userB + "_" + userA} {
		_, err := r.store.Get(ctx, conversationCollection, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("pair %s/%s: %w", userA, userB, ErrConversationNotFound)
}

// InitializeConversation returns the existing conversation for the
// pair, or creates one under the key senderID_receiverID. Repeated and
// concurrent calls for the same pair resolve to the same id and never
// produce a second document: creation goes through the store's atomic
// create-if-absent, behind a per-pair lock.
func (r *ChatRepository) InitializeConversation(ctx context.Context, senderID, receiverID, initialMessage string) (string, error) {
	if senderID == "" || receiverID == "" {
		return "", fmt.Errorf("initialize conversation: %w", ErrInvalidArgument)
	}

	mu := r.pairLock(senderID, receiverID)
	mu.Lock()
	defer mu.Unlock()

	if id, err := r.ResolveConversationID(ctx, senderID, receiverID); err == nil {
		return id, nil
	} else if !errors.Is(err, ErrConversationNotFound) {
		return "", err
	}

	id := senderID + "_" + receiverID
	err := r.store.Create(ctx, conversationCollection, id, map[string]any{
		"senderId":    senderID,
		"receiverId":  receiverID,
		"lastMessage": initialMessage,
		"timestamp":   store.ServerTimestamp(),
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		// Another writer beat us to the canonical key.
		return id, r.appendToInbox(ctx, senderID, id)
	}
	if err != nil {
		return "", fmt.Errorf("create conversation %s: %w", id, err)
	}

	return id, r.appendToInbox(ctx, senderID, id)
}

// appendToInbox records the conversation key on the sender's directory
// entry, creating the entry when absent. ArrayUnion keeps the append
// idempotent.
func (r *ChatRepository) appendToInbox(ctx context.Context, userID, conversationID string) error {
	err := r.store.Set(ctx, directoryCollection, userID, map[string]any{
		"inboxIds": store.ArrayUnion(conversationID),
	}, true)
	if err != nil {
		return fmt.Errorf("append inbox id for %s: %w", userID, err)
	}
	return nil
}

// SendMessage appends a message to the conversation. Empty and
// whitespace-only bodies are rejected before any store call. A missing
// conversation id falls back to InitializeConversation. The write is
// one atomic batch: every unread message addressed to the sender flips
// to read, the new unread message is appended, and the conversation's
// last-message fields move — a reader never observes a partial state.
func (r *ChatRepository) SendMessage(ctx context.Context, conversationID, senderID, receiverID, body string, attachment *Attachment) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("send message: empty body: %w", ErrInvalidArgument)
	}
	if senderID == "" || receiverID == "" {
		return fmt.Errorf("send message: %w", ErrInvalidArgument)
	}

	if conversationID == "" {
		id, err := r.InitializeConversation(ctx, senderID, receiverID, "")
		if err != nil {
			return err
		}
		conversationID = id
	} else if _, err := r.store.Get(ctx, conversationCollection, conversationID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		id, err := r.InitializeConversation(ctx, senderID, receiverID, "")
		if err != nil {
			return err
		}
		conversationID = id
	}

	// Reply implies the sender has seen everything addressed to them.
	toMark, err := r.store.GetAll(ctx, store.Query{
		Collection: messageCollection(conversationID),
		Filters: []store.Filter{
			{Field: "receiverId", Value: senderID},
			{Field: "readStatus", Value: models.MessageUnread},
		},
	})
	if err != nil {
		return fmt.Errorf("load unread for %s: %w", conversationID, err)
	}

	message := map[string]any{
		"body":       trimmed,
		"senderId":   senderID,
		"receiverId": receiverID,
		"readStatus": models.MessageUnread,
		"timestamp":  store.ServerTimestamp(),
	}
	if attachment != nil {
		message["attachmentUrl"] = attachment.URL
		message["attachmentExt"] = attachment.Ext
	}

	batch := r.store.Batch()
	for _, doc := range toMark {
		batch.Update(messageCollection(conversationID), doc.ID, []store.Update{
			{Field: "readStatus", Value: models.MessageRead},
		})
	}
	batch.Set(messageCollection(conversationID), newMessageID(), message)
	batch.Update(conversationCollection, conversationID, []store.Update{
		{Field: "lastMessage", Value: trimmed},
		{Field: "timestamp", Value: store.ServerTimestamp()},
	})
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("send message to %s: %w", conversationID, err)
	}
	return nil
}

// newMessageID builds the client-assigned document key: send time plus
// a random suffix. It is only a storage key; ordering is always by the
// server timestamp.
func newMessageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// SubscribeMessages delivers the full message list of the conversation,
// ordered by server timestamp ascending, now and after every change.
// Store errors go to onErr without ending the subscription's contract;
// the returned cancel is idempotent.
func (r *ChatRepository) SubscribeMessages(ctx context.Context, conversationID string, onUpdate func([]models.Message), onErr func(error)) (store.CancelFunc, error) {
	if conversationID == "" {
		return func() {}, fmt.Errorf("subscribe messages: %w", ErrInvalidArgument)
	}
	if onErr == nil {
		onErr = func(err error) {
			log.Printf("message subscription %s: %v", conversationID, err)
		}
	}

	return r.store.Watch(ctx, store.Query{
		Collection: messageCollection(conversationID),
		OrderBy:    "timestamp",
	}, func(docs []store.Document) {
		messages := make([]models.Message, 0, len(docs))
		for _, doc := range docs {
			messages = append(messages, docToMessage(doc))
		}
		onUpdate(messages)
	}, onErr)
}

// MarkAllRead flips every unread message in the conversation to read,
// skipping messages authored by the system sender. Writes are issued
// concurrently; done runs after all of them settle. Individual write
// failures are logged and do not abort the rest.
func (r *ChatRepository) MarkAllRead(ctx context.Context, conversationID string, done func()) error {
	if conversationID == "" {
		return fmt.Errorf("mark all read: %w", ErrInvalidArgument)
	}

	docs, err := r.store.GetAll(ctx, store.Query{
		Collection: messageCollection(conversationID),
		Filters: []store.Filter{
			{Field: "readStatus", Value: models.MessageUnread},
		},
	})
	if err != nil {
		return fmt.Errorf("mark all read %s: %w", conversationID, err)
	}

	var wg sync.WaitGroup
	for _, doc := range docs {
		if doc.String("senderId") == models.SystemSenderID {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := r.store.Update(ctx, messageCollection(conversationID), id, []store.Update{
				{Field: "readStatus", Value: models.MessageRead},
			})
			if err != nil {
				log.Printf("mark read %s/%s: %v", conversationID, id, err)
			}
		}(doc.ID)
	}
	wg.Wait()

	if done != nil {
		done()
	}
	return nil
}

// SubscribeConversations delivers every conversation the user takes
// part in, as sender or receiver, annotated with the unread count
// addressed to the user and the other participant's directory entry.
// The two underlying live queries are merged by conversation id with
// last write wins, so an emitted list never holds duplicate ids.
func (r *ChatRepository) SubscribeConversations(ctx context.Context, userID string, onUpdate func([]models.ConversationSummary)) (store.CancelFunc, error) {
	if userID == "" {
		return func() {}, fmt.Errorf("subscribe conversations: %w", ErrInvalidArgument)
	}

	merge := &conversationMerge{
		sources: [2]map[string]models.Conversation{{}, {}},
		stamps:  [2]map[string]uint64{{}, {}},
	}

	emit := func(source int, docs []store.Document) {
		merge.mu.Lock()
		defer merge.mu.Unlock()

		merge.seq++
		merge.sources[source] = make(map[string]models.Conversation, len(docs))
		merge.stamps[source] = make(map[string]uint64, len(docs))
		for _, doc := range docs {
			merge.sources[source][doc.ID] = docToConversation(doc)
			merge.stamps[source][doc.ID] = merge.seq
		}

		onUpdate(r.buildSummaries(ctx, userID, merge.merged()))
	}

	fields := []string{"senderId", "receiverId"}
	cancels := make([]store.CancelFunc, 0, 2)
	for i, field := range fields {
		i := i
		cancel, err := r.store.Watch(ctx, store.Query{
			Collection: conversationCollection,
			Filters:    []store.Filter{{Field: field, Value: userID}},
		}, func(docs []store.Document) {
			emit(i, docs)
		}, func(err error) {
			log.Printf("conversation subscription for %s: %v", userID, err)
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return func() {}, err
		}
		cancels = append(cancels, cancel)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, c := range cancels {
				c()
			}
		})
	}, nil
}

type conversationMerge struct {
	mu      sync.Mutex
	seq     uint64
	sources [2]map[string]models.Conversation
	stamps  [2]map[string]uint64
}

// merged unions the two source snapshots keyed by conversation id.
// When both sources carry the same id, the snapshot delivered later
// wins. The union is commutative over delivery order.
func (m *conversationMerge) merged() []models.Conversation {
	winners := make(map[string]models.Conversation)
	winnerStamp := make(map[string]uint64)
	for i := range m.sources {
		for id, conv := range m.sources[i] {
			if stamp, ok := winnerStamp[id]; !ok || m.stamps[i][id] > stamp {
				winners[id] = conv
				winnerStamp[id] = m.stamps[i][id]
			}
		}
	}

	out := make([]models.Conversation, 0, len(winners))
	for _, conv := range winners {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *ChatRepository) buildSummaries(ctx context.Context, userID string, conversations []models.Conversation) []models.ConversationSummary {
	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summary := models.ConversationSummary{Conversation: conv}

		unread, err := r.store.GetAll(ctx, store.Query{
			Collection: messageCollection(conv.ID),
			Filters: []store.Filter{
				{Field: "receiverId", Value: userID},
				{Field: "readStatus", Value: models.MessageUnread},
			},
		})
		if err != nil {
			log.Printf("unread count for %s: %v", conv.ID, err)
		}
		summary.UnreadCount = len(unread)

		otherID := conv.SenderID
		if otherID == userID {
			otherID = conv.ReceiverID
		}
		if doc, err := r.store.Get(ctx, directoryCollection, otherID); err == nil {
			entry := docToDirectoryEntry(doc)
			summary.Other = &entry
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("directory entry %s: %v", otherID, err)
		}

		summaries = append(summaries, summary)
	}
	return summaries
}

func docToMessage(doc store.Document) models.Message {
	return models.Message{
		ID:            doc.ID,
		Body:          doc.String("body"),
		SenderID:      doc.String("senderId"),
		ReceiverID:    doc.String("receiverId"),
		ReadStatus:    doc.String("readStatus"),
		AttachmentURL: doc.String("attachmentUrl"),
		AttachmentExt: doc.String("attachmentExt"),
		Timestamp:     doc.Time("timestamp"),
	}
}

func docToConversation(doc store.Document) models.Conversation {
	return models.Conversation{
		ID:              doc.ID,
		SenderID:        doc.String("senderId"),
		ReceiverID:      doc.String("receiverId"),
		LastMessage:     doc.String("lastMessage"),
		LastMessageTime: doc.Time("timestamp"),
	}
}

func docToDirectoryEntry(doc store.Document) models.DirectoryEntry {
	return models.DirectoryEntry{
		UserID:   doc.ID,
		Name:     doc.String("name"),
		Phone:    doc.String("phone"),
		Image:    doc.String("image"),
		Role:     doc.String("role"),
		Status:   doc.String("status"),
		InboxIDs: doc.Strings("inboxIds"),
	}
}
