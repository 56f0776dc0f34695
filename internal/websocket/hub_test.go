package chatws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jeuxBackend/carchive-chat-backend/internal/notify"
	"github.com/jeuxBackend/carchive-chat-backend/internal/presence"
	"github.com/jeuxBackend/carchive-chat-backend/internal/store"
)

type pushCall struct {
	userID  string
	payload notify.Payload
}

type stubPusher struct {
	calls chan pushCall
}

func (s *stubPusher) EnqueuePush(_ context.Context, userID string, payload notify.Payload) error {
	s.calls <- pushCall{userID: userID, payload: payload}
	return nil
}

func testPayload(body string) notify.Payload {
	return notify.Payload{
		Notification: &notify.NotificationFields{Title: "T", Body: body},
		Data:         map[string]string{"url": "/chat/7_12"},
	}
}

func TestNotifyUserQueuesForWorkerWhenNoClientConnected(t *testing.T) {
	pusher := &stubPusher{calls: make(chan pushCall, 1)}
	hub := NewHub(presence.NewTracker(nil), pusher)
	go hub.Run()

	hub.NotifyUser("7", testPayload("hello"))

	select {
	case call := <-pusher.calls:
		if call.userID != "7" {
			t.Errorf("expected push queued for user 7, got %s", call.userID)
		}
		if call.payload.Body() != "hello" {
			t.Errorf("expected body hello, got %q", call.payload.Body())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected push to be queued for the worker")
	}
}

func TestNotifyUserRendersInPageWhenPermissionGranted(t *testing.T) {
	pusher := &stubPusher{calls: make(chan pushCall, 1)}
	hub := NewHub(presence.NewTracker(nil), pusher)
	go hub.Run()

	client := NewClient(hub, nil, "12")
	client.granted.Store(true)
	hub.Register(client)

	hub.NotifyUser("12", testPayload("hello"))

	select {
	case raw := <-client.send:
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		if frame.Type != "notification" {
			t.Errorf("expected notification frame, got %s", frame.Type)
		}
		if frame.Notification == nil || frame.Notification.Body != "hello" {
			t.Errorf("expected notification body hello, got %+v", frame.Notification)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an in-page notification frame")
	}

	select {
	case call := <-pusher.calls:
		t.Errorf("expected no worker delivery after in-page render, got one for %s", call.userID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyUserFallsBackToWorkerWhenPermissionDenied(t *testing.T) {
	pusher := &stubPusher{calls: make(chan pushCall, 1)}
	hub := NewHub(presence.NewTracker(nil), pusher)
	go hub.Run()

	client := NewClient(hub, nil, "12")
	hub.Register(client)

	hub.NotifyUser("12", testPayload("hello"))

	select {
	case call := <-pusher.calls:
		if call.userID != "12" {
			t.Errorf("expected push queued for user 12, got %s", call.userID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected push to fall back to the worker")
	}

	select {
	case raw := <-client.send:
		t.Errorf("expected no in-page frame without permission, got %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

// A store watch callback can still be in flight when its cancel
// returns, so a snapshot may try to write a frame after the client's
// send channel is closed. That delivery must be dropped, not panic.
func TestLateSnapshotAfterClientTeardownIsDropped(t *testing.T) {
	hub := NewHub(presence.NewTracker(nil), nil)
	client := NewClient(hub, nil, "7")

	st := store.NewMemoryStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	delivered := make(chan struct{})

	first := true
	cancel, err := st.Watch(context.Background(), store.Query{Collection: "chats"}, func(docs []store.Document) {
		if first {
			first = false
			return
		}
		close(entered)
		<-release
		client.writeFrame(Frame{Type: "messages"})
		close(delivered)
	}, func(error) {})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	go func() {
		_ = st.Set(context.Background(), "chats", "7_12", map[string]any{"senderId": "7"}, false)
	}()

	// The snapshot is mid-delivery; tear the client down underneath it.
	<-entered
	cancel()
	client.closeSend()
	close(release)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the in-flight delivery to complete")
	}
}

func TestCloseSendIsIdempotent(t *testing.T) {
	hub := NewHub(presence.NewTracker(nil), nil)
	client := NewClient(hub, nil, "7")

	client.closeSend()
	client.closeSend()
	client.writeFrame(Frame{Type: "messages"})
}

func TestRegisterFeedsPresenceTracker(t *testing.T) {
	tracker := presence.NewTracker(nil)
	hub := NewHub(tracker, nil)
	go hub.Run()

	client := NewClient(hub, nil, "12")
	hub.Register(client)

	deadline := time.Now().Add(2 * time.Second)
	for tracker.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected tracker to see one connected client")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !tracker.Active() {
		t.Error("expected a fresh client to count as active")
	}

	hub.Unregister(client)
	deadline = time.Now().Add(2 * time.Second)
	for tracker.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected tracker to drop the disconnected client")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
