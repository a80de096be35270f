package beacon

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

type ackCall struct {
	conversationID string
	lastMessageID  string
}

// fakeAcker records MarkRead calls. A non-nil gate blocks each call until the
// test releases it; fail makes every call return an error.
type fakeAcker struct {
	mu    sync.Mutex
	calls []ackCall
	gate  chan struct{}
	fail  bool
}

func (f *fakeAcker) MarkRead(ctx context.Context, conversationID, lastMessageID string) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ackCall{conversationID, lastMessageID})
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, fmt.Errorf("network down")
	}
	return &Result{OK: true}, nil
}

func (f *fakeAcker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAcker) call(i int) ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// unreadStore builds a store with one conversation carrying unread messages.
func unreadStore(convID string, messageIDs ...string) *Store {
	s := NewStore()
	seedConversations(s, convID)
	for i, id := range messageIDs {
		s.MergeMessage(makeMessage(id, convID, "u2",
			fmt.Sprintf("2026-01-01T10:0%d:00Z", i)), "u1")
	}
	return s
}

// ============================================================================
// Activation
// ============================================================================

func TestReadTrackerActivate(t *testing.T) {
	t.Run("acknowledges up to the last message", func(t *testing.T) {
		store := unreadStore("c1", "m1", "m2")
		acker := &fakeAcker{}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")

		waitFor(t, "acknowledgement", func() bool {
			return store.Conversation("c1").UnreadCount == 0
		})
		if got := acker.callCount(); got != 1 {
			t.Fatalf("expected 1 request, got %d", got)
		}
		if c := acker.call(0); c.conversationID != "c1" || c.lastMessageID != "m2" {
			t.Fatalf("expected ack for c1 up to m2, got %+v", c)
		}
		if got := store.ActiveConversation(); got != "c1" {
			t.Fatalf("expected c1 active, got %q", got)
		}
	})

	t.Run("no unread means no request", func(t *testing.T) {
		store := NewStore()
		seedConversations(store, "c1")
		acker := &fakeAcker{}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")

		if got := acker.callCount(); got != 0 {
			t.Fatalf("expected no requests, got %d", got)
		}
	})

	t.Run("unknown last message means no request", func(t *testing.T) {
		store := NewStore()
		store.ApplyConversationPage(&ConversationPage{
			Conversations: []*Conversation{makeConversation("c1", 3)},
			Page:          1,
		})
		acker := &fakeAcker{}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")

		if got := acker.callCount(); got != 0 {
			t.Fatalf("expected no requests without a last message id, got %d", got)
		}
	})

	t.Run("deactivate clears the active conversation", func(t *testing.T) {
		store := NewStore()
		tracker := NewReadTracker(store, &fakeAcker{})

		store.SetActiveConversation("c1")
		tracker.Deactivate()
		if got := store.ActiveConversation(); got != "" {
			t.Fatalf("expected no active conversation, got %q", got)
		}
	})
}

// ============================================================================
// Coalescing
// ============================================================================

func TestReadTrackerCoalescing(t *testing.T) {
	t.Run("re-activation with same id sends nothing extra", func(t *testing.T) {
		store := unreadStore("c1", "m1")
		gate := make(chan struct{})
		acker := &fakeAcker{gate: gate}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")
		waitFor(t, "first request", func() bool { return acker.callCount() == 1 })

		// Rapid re-activations while the first request is on the wire.
		tracker.Activate(context.Background(), "c1")
		tracker.Activate(context.Background(), "c1")

		close(gate)
		waitFor(t, "acknowledgement to finish", func() bool {
			return !tracker.Acknowledging("c1")
		})

		if got := acker.callCount(); got != 1 {
			t.Fatalf("expected exactly 1 request, got %d", got)
		}
	})

	t.Run("newer id during flight sends one follow-up", func(t *testing.T) {
		store := unreadStore("c1", "m1")
		gate := make(chan struct{})
		acker := &fakeAcker{gate: gate}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")
		waitFor(t, "first request", func() bool { return acker.callCount() == 1 })

		// A message lands while the first acknowledgement is in flight.
		store.MergeMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:05:00Z"), "u1")
		tracker.Activate(context.Background(), "c1")
		tracker.Activate(context.Background(), "c1")

		close(gate)
		waitFor(t, "acknowledgements to finish", func() bool {
			return !tracker.Acknowledging("c1")
		})

		if got := acker.callCount(); got != 2 {
			t.Fatalf("expected 2 requests, got %d", got)
		}
		if c := acker.call(1); c.lastMessageID != "m2" {
			t.Fatalf("expected follow-up for m2, got %+v", c)
		}
	})
}

// ============================================================================
// Failure
// ============================================================================

func TestReadTrackerFailure(t *testing.T) {
	t.Run("failure leaves unread count and is not retried", func(t *testing.T) {
		store := unreadStore("c1", "m1")
		acker := &fakeAcker{fail: true}
		tracker := NewReadTracker(store, acker)

		errCh := make(chan error, 1)
		tracker.OnError = func(conversationID string, err error) {
			errCh <- err
		}

		tracker.Activate(context.Background(), "c1")

		err := <-errCh
		if err == nil {
			t.Fatal("expected acknowledgement error")
		}
		waitFor(t, "pending state to clear", func() bool {
			return !tracker.Acknowledging("c1")
		})

		if got := store.Conversation("c1").UnreadCount; got != 1 {
			t.Fatalf("expected unread count untouched, got %d", got)
		}
		if got := acker.callCount(); got != 1 {
			t.Fatalf("expected no retry, got %d requests", got)
		}
	})

	t.Run("failure drops the coalesced follow-up", func(t *testing.T) {
		store := unreadStore("c1", "m1")
		gate := make(chan struct{})
		acker := &fakeAcker{gate: gate, fail: true}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")
		waitFor(t, "first request", func() bool { return acker.callCount() == 1 })

		store.MergeMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:05:00Z"), "u1")
		tracker.Activate(context.Background(), "c1")

		close(gate)
		waitFor(t, "pending state to clear", func() bool {
			return !tracker.Acknowledging("c1")
		})

		if got := acker.callCount(); got != 1 {
			t.Fatalf("expected follow-up dropped after failure, got %d requests", got)
		}
	})

	t.Run("re-activation after failure tries again", func(t *testing.T) {
		store := unreadStore("c1", "m1")
		acker := &fakeAcker{fail: true}
		tracker := NewReadTracker(store, acker)

		tracker.Activate(context.Background(), "c1")
		waitFor(t, "first attempt to finish", func() bool {
			return acker.callCount() == 1 && !tracker.Acknowledging("c1")
		})

		acker.mu.Lock()
		acker.fail = false
		acker.mu.Unlock()

		tracker.Activate(context.Background(), "c1")
		waitFor(t, "second attempt to succeed", func() bool {
			return store.Conversation("c1").UnreadCount == 0
		})
		if got := acker.callCount(); got != 2 {
			t.Fatalf("expected 2 attempts, got %d", got)
		}
	})
}
