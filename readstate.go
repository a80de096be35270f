package beacon

import (
	"context"
	"sync"
)

// ============================================================================
// ReadTracker
// ============================================================================

// ReadAcker issues read acknowledgements. *ConversationsClient satisfies it.
type ReadAcker interface {
	MarkRead(ctx context.Context, conversationID, lastMessageID string) (*Result, error)
}

// ReadTracker drives read acknowledgements when a conversation becomes the
// active one. At most one acknowledgement is in flight per conversation;
// a re-activation while one is pending is coalesced, with the newest
// last-message id winning. A failed acknowledgement leaves the unread count
// untouched and is not retried; re-activating the conversation tries again.
type ReadTracker struct {
	store *Store
	acker ReadAcker

	// OnError, if set, observes acknowledgement failures.
	OnError func(conversationID string, err error)

	mu      sync.Mutex
	pending map[string]*ackState
}

type ackState struct {
	sentID string // id carried by the in-flight request
	nextID string // coalesced follow-up, empty if none
}

// NewReadTracker creates a tracker mutating store through acker.
func NewReadTracker(store *Store, acker ReadAcker) *ReadTracker {
	return &ReadTracker{
		store:   store,
		acker:   acker,
		pending: make(map[string]*ackState),
	}
}

// Activate marks a conversation as the currently viewed one and, if it has
// unread messages and a known last message, acknowledges up to that message.
func (t *ReadTracker) Activate(ctx context.Context, conversationID string) {
	t.store.SetActiveConversation(conversationID)

	convo := t.store.Conversation(conversationID)
	if convo == nil || convo.UnreadCount == 0 {
		return
	}
	last := t.store.LastMessage(conversationID)
	if last == nil || last.ID == "" {
		return
	}
	t.acknowledge(ctx, conversationID, last.ID)
}

// Deactivate clears the active conversation.
func (t *ReadTracker) Deactivate() {
	t.store.SetActiveConversation("")
}

// Acknowledging reports whether an acknowledgement is in flight for the
// conversation.
func (t *ReadTracker) Acknowledging(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[conversationID]
	return ok
}

func (t *ReadTracker) acknowledge(ctx context.Context, conversationID, lastMessageID string) {
	t.mu.Lock()
	if st, inflight := t.pending[conversationID]; inflight {
		// Coalesce: remember only the newest id. If it matches what is
		// already on the wire, the pending request covers it.
		if st.sentID != lastMessageID {
			st.nextID = lastMessageID
		}
		t.mu.Unlock()
		return
	}
	st := &ackState{sentID: lastMessageID}
	t.pending[conversationID] = st
	t.mu.Unlock()

	go t.run(ctx, conversationID, st)
}

func (t *ReadTracker) run(ctx context.Context, conversationID string, st *ackState) {
	id := st.sentID
	for {
		err := t.send(ctx, conversationID, id)
		if err != nil {
			if t.OnError != nil {
				t.OnError(conversationID, err)
			}
		} else {
			t.store.ZeroUnread(conversationID)
		}

		t.mu.Lock()
		// A failure drops any coalesced follow-up too: no retry storm, the
		// next activation starts fresh.
		if err != nil || st.nextID == "" {
			delete(t.pending, conversationID)
			t.mu.Unlock()
			return
		}
		id = st.nextID
		st.sentID = id
		st.nextID = ""
		t.mu.Unlock()
	}
}

func (t *ReadTracker) send(ctx context.Context, conversationID, lastMessageID string) error {
	result, err := t.acker.MarkRead(ctx, conversationID, lastMessageID)
	if err != nil {
		return err
	}
	if !result.OK {
		return resultErr("mark read", result)
	}
	return nil
}
