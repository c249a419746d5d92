package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type Identity struct {
	UserID string
	Email  string
}

type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

type Event struct {
	Kind     EventKind
	Identity Identity
	At       time.Time
}

// Observer is called synchronously, outside the tracker lock.
type Observer func(ctx context.Context, event Event)

// Tracker holds who is currently signed in and notifies registered
// observers when that changes. A user idle for longer than idleTTL starts a
// new session on the next request.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]time.Time
	observers map[uint64]Observer
	nextID    uint64
	idleTTL   time.Duration
	now       func() time.Time
}

func NewTracker(idleTTL time.Duration) *Tracker {
	if idleTTL <= 0 {
		idleTTL = 12 * time.Hour
	}
	return &Tracker{
		active:    make(map[string]time.Time),
		observers: make(map[uint64]Observer),
		idleTTL:   idleTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is a no-op.
func (t *Tracker) Subscribe(fn Observer) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	}
}

// Touch records activity for identity and reports whether it started a new
// session.
func (t *Tracker) Touch(ctx context.Context, identity Identity) bool {
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return false
	}
	now := t.now()

	t.mu.Lock()
	lastSeen, ok := t.active[userID]
	started := !ok || now.Sub(lastSeen) > t.idleTTL
	t.active[userID] = now
	observers := t.snapshotLocked()
	t.mu.Unlock()

	if started {
		notify(ctx, observers, Event{Kind: SignedIn, Identity: identity, At: now})
	}
	return started
}

// End closes the user's session. Ending an unknown user does nothing.
func (t *Tracker) End(ctx context.Context, identity Identity) bool {
	userID := strings.TrimSpace(identity.UserID)

	t.mu.Lock()
	_, ok := t.active[userID]
	delete(t.active, userID)
	observers := t.snapshotLocked()
	t.mu.Unlock()

	if ok {
		notify(ctx, observers, Event{Kind: SignedOut, Identity: identity, At: t.now()})
	}
	return ok
}

func (t *Tracker) Active(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	lastSeen, ok := t.active[strings.TrimSpace(userID)]
	return ok && t.now().Sub(lastSeen) <= t.idleTTL
}

func (t *Tracker) snapshotLocked() []Observer {
	ids := make([]uint64, 0, len(t.observers))
	for id := range t.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, t.observers[id])
	}
	return observers
}

func notify(ctx context.Context, observers []Observer, event Event) {
	for _, observer := range observers {
		observer(ctx, event)
	}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok && identity.UserID != ""
}
