package session

import (
	"context"
	"testing"
	"time"
)

func TestTrackerNotifiesOnNewSessionsOnly(t *testing.T) {
	tracker := NewTracker(time.Hour)
	current := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	events := make([]Event, 0)
	unsubscribe := tracker.Subscribe(func(_ context.Context, event Event) {
		events = append(events, event)
	})
	defer unsubscribe()

	user := Identity{UserID: "u1"}
	if !tracker.Touch(context.Background(), user) {
		t.Fatalf("expected first touch to start a session")
	}
	current = current.Add(10 * time.Minute)
	if tracker.Touch(context.Background(), user) {
		t.Fatalf("expected repeated touch to reuse the session")
	}
	current = current.Add(2 * time.Hour)
	if !tracker.Touch(context.Background(), user) {
		t.Fatalf("expected idle user to start a new session")
	}

	if len(events) != 2 || events[0].Kind != SignedIn || events[1].Kind != SignedIn {
		t.Fatalf("expected two sign-in events, got %+v", events)
	}
}

func TestTrackerEndNotifiesSignOut(t *testing.T) {
	tracker := NewTracker(time.Hour)
	kinds := make([]EventKind, 0)
	tracker.Subscribe(func(_ context.Context, event Event) {
		kinds = append(kinds, event.Kind)
	})

	user := Identity{UserID: "u1"}
	tracker.Touch(context.Background(), user)
	if !tracker.End(context.Background(), user) {
		t.Fatalf("expected active session to end")
	}
	if tracker.End(context.Background(), user) {
		t.Fatalf("expected second end to be a no-op")
	}
	if tracker.Active("u1") {
		t.Fatalf("expected user to be inactive")
	}
	if len(kinds) != 2 || kinds[1] != SignedOut {
		t.Fatalf("expected sign-in then sign-out, got %v", kinds)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	tracker := NewTracker(time.Hour)
	calls := 0
	unsubscribe := tracker.Subscribe(func(context.Context, Event) { calls++ })

	tracker.Touch(context.Background(), Identity{UserID: "u1"})
	unsubscribe()
	unsubscribe()
	tracker.Touch(context.Background(), Identity{UserID: "u2"})

	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no identity on empty context")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Email: "a@b.c"})
	identity, ok := FromContext(ctx)
	if !ok || identity.UserID != "u1" {
		t.Fatalf("expected identity u1, got %+v", identity)
	}
}
