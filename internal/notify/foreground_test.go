package notify

import (
	"context"
	"testing"
	"time"
)

func TestForegroundRendersOnlyWithPermission(t *testing.T) {
	renderer := &fakeRenderer{}
	fg := NewForeground(renderer)
	payload := []byte(`{"notification":{"title":"T","body":"B"},"data":{"url":"/x"}}`)

	if rendered := fg.Deliver(context.Background(), true, payload); !rendered {
		t.Fatal("expected a rendered notification with permission granted")
	}
	if len(renderer.shown) != 1 || renderer.shown[0].Title != "T" {
		t.Fatalf("expected exactly one notification titled T, got %v", renderer.shown)
	}
	if renderer.shown[0].URL != "/x" {
		t.Fatalf("expected click-through url /x, got %q", renderer.shown[0].URL)
	}

	if rendered := fg.Deliver(context.Background(), false, payload); rendered {
		t.Fatal("permission denied must render nothing")
	}
	if len(renderer.shown) != 1 {
		t.Fatalf("expected no additional render, got %d", len(renderer.shown))
	}
}

func TestForegroundRequiresBody(t *testing.T) {
	renderer := &fakeRenderer{}
	fg := NewForeground(renderer)

	if rendered := fg.Deliver(context.Background(), true, []byte(`{"notification":{"title":"T"}}`)); rendered {
		t.Fatal("payload without body must not render in-page")
	}
	if rendered := fg.Deliver(context.Background(), true, []byte(`{}`)); rendered {
		t.Fatal("payload without notification block must not render in-page")
	}
}

func TestForegroundAutoClosesAfterFixedDelay(t *testing.T) {
	renderer := &fakeRenderer{}
	fg := NewForeground(renderer)

	var gotDelay time.Duration
	var fire func()
	fg.after = func(d time.Duration, fn func()) *time.Timer {
		gotDelay = d
		fire = fn
		return nil
	}

	payload := []byte(`{"notification":{"title":"T","body":"B"}}`)
	if rendered := fg.Deliver(context.Background(), true, payload); !rendered {
		t.Fatal("expected render")
	}
	if gotDelay != 8*time.Second {
		t.Fatalf("expected 8s auto-close, got %v", gotDelay)
	}
	if len(renderer.closed) != 0 {
		t.Fatal("close must not fire before the timer")
	}

	fire()
	if len(renderer.closed) != 1 || renderer.closed[0] != NotificationTag {
		t.Fatalf("expected close for the notification tag, got %v", renderer.closed)
	}
}

func TestForegroundSkipsMalformedPayload(t *testing.T) {
	renderer := &fakeRenderer{}
	fg := NewForeground(renderer)

	if rendered := fg.Deliver(context.Background(), true, []byte(`garbage`)); rendered {
		t.Fatal("malformed payload must not render in-page")
	}
}
