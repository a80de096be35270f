package beacon

import (
	"fmt"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func makeConversation(id string, unread int) *Conversation {
	return &Conversation{
		ID:          id,
		Kind:        ConversationDirect,
		UnreadCount: unread,
		CreatedAt:   "2026-01-01T00:00:00Z",
	}
}

func makeMessage(id, convID, senderID, createdAt string) *Message {
	return &Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		Content:        "content of " + id,
		CreatedAt:      createdAt,
	}
}

func makeNotification(id, createdAt string) *Notification {
	return &Notification{
		ID:        id,
		Type:      NotificationLike,
		Content:   "notification " + id,
		CreatedAt: createdAt,
	}
}

func seedConversations(s *Store, ids ...string) {
	convos := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		convos = append(convos, makeConversation(id, 0))
	}
	s.ApplyConversationPage(&ConversationPage{Conversations: convos, Page: 1})
}

func messageIDs(list []*Message) []string {
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	return ids
}

// ============================================================================
// Conversation list
// ============================================================================

func TestStoreConversationPages(t *testing.T) {
	t.Run("empty store is stale", func(t *testing.T) {
		s := NewStore()
		list, stale := s.Conversations()
		if len(list) != 0 || !stale {
			t.Fatalf("expected empty stale list, got %d items, stale=%v", len(list), stale)
		}
	})

	t.Run("first page replaces", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1", "c2")
		seedConversations(s, "c3")

		list, stale := s.Conversations()
		if stale {
			t.Fatal("expected fresh list after applying a page")
		}
		if len(list) != 1 || list[0].ID != "c3" {
			t.Fatalf("expected first page to replace, got %v", list)
		}
	})

	t.Run("later pages append and dedupe", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1", "c2")
		s.ApplyConversationPage(&ConversationPage{
			Conversations: []*Conversation{makeConversation("c2", 0), makeConversation("c3", 0)},
			Page:          2,
		})

		list, _ := s.Conversations()
		if len(list) != 3 {
			t.Fatalf("expected 3 conversations, got %d", len(list))
		}
		if !s.HasConversation("c3") {
			t.Fatal("expected c3 to be indexed")
		}
	})

	t.Run("invalidation marks stale and bumps generation", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")

		gen := s.ConversationGeneration()
		s.InvalidateConversations()

		_, stale := s.Conversations()
		if !stale {
			t.Fatal("expected stale after invalidation")
		}
		if s.ConversationGeneration() <= gen {
			t.Fatal("expected generation to advance")
		}

		// Applying a fresh page clears the flag again.
		seedConversations(s, "c1")
		if _, stale := s.Conversations(); stale {
			t.Fatal("expected fresh after reapply")
		}
	})
}

// ============================================================================
// Message insertion
// ============================================================================

func TestStoreInsertMessage(t *testing.T) {
	t.Run("idempotent by id", func(t *testing.T) {
		s := NewStore()
		m := makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z")

		if !s.InsertMessage(m) {
			t.Fatal("expected first insert to change the cache")
		}
		if s.InsertMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z")) {
			t.Fatal("expected duplicate insert to be a no-op")
		}
		if got := len(s.Messages("c1")); got != 1 {
			t.Fatalf("expected 1 message, got %d", got)
		}
	})

	t.Run("rejects partial entities", func(t *testing.T) {
		s := NewStore()
		if s.InsertMessage(nil) {
			t.Fatal("nil message must not change the cache")
		}
		if s.InsertMessage(&Message{ConversationID: "c1"}) {
			t.Fatal("message without id must not change the cache")
		}
		if s.InsertMessage(&Message{ID: "m1"}) {
			t.Fatal("message without conversation must not change the cache")
		}
	})

	t.Run("keeps ascending order on out-of-order arrival", func(t *testing.T) {
		s := NewStore()
		s.InsertMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"))
		s.InsertMessage(makeMessage("m3", "c1", "u2", "2026-01-01T10:02:00Z"))
		// m2 arrives late.
		s.InsertMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:01:00Z"))

		got := messageIDs(s.Messages("c1"))
		want := []string{"m1", "m2", "m3"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, got)
			}
		}
	})

	t.Run("confirmed message replaces pending echo", func(t *testing.T) {
		s := NewStore()
		echo := &Message{
			ID:             "local-abc",
			ClientID:       "abc",
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        "hi",
			CreatedAt:      "2026-01-01T10:00:00Z",
			Pending:        true,
		}
		s.InsertMessage(echo)

		confirmed := &Message{
			ID:             "m-server",
			ClientID:       "abc",
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        "hi",
			CreatedAt:      "2026-01-01T10:00:01Z",
		}
		if !s.InsertMessage(confirmed) {
			t.Fatal("expected confirmation to change the cache")
		}

		list := s.Messages("c1")
		if len(list) != 1 {
			t.Fatalf("expected echo to be replaced, got %d messages", len(list))
		}
		if list[0].ID != "m-server" || list[0].Pending {
			t.Fatalf("expected confirmed server message, got %+v", list[0])
		}
	})

	t.Run("history page dedupes against pushed copies", func(t *testing.T) {
		s := NewStore()
		s.InsertMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:01:00Z"))

		s.ApplyMessagePage("c1", &MessagePage{
			Messages: []*Message{
				makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"),
				makeMessage("m2", "c1", "u2", "2026-01-01T10:01:00Z"),
			},
			Page: 1,
		})

		got := messageIDs(s.Messages("c1"))
		if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
			t.Fatalf("expected [m1 m2], got %v", got)
		}
		if meta := s.MessagePageMeta("c1"); meta == nil || meta.Page != 1 {
			t.Fatalf("expected page meta for c1, got %+v", meta)
		}
	})
}

// ============================================================================
// Structural sharing
// ============================================================================

func TestStoreStructuralSharing(t *testing.T) {
	t.Run("message slice handed out earlier does not change", func(t *testing.T) {
		s := NewStore()
		s.InsertMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"))

		before := s.Messages("c1")
		s.InsertMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:01:00Z"))

		if len(before) != 1 || before[0].ID != "m1" {
			t.Fatalf("earlier snapshot changed: %v", messageIDs(before))
		}
		if got := len(s.Messages("c1")); got != 2 {
			t.Fatalf("expected new read to see 2 messages, got %d", got)
		}
	})

	t.Run("bumped conversation entry is cloned", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1", "c2")

		before, _ := s.Conversations()
		beforeEntry := before[0]

		s.MergeMessage(makeMessage("m1", "c2", "u2", "2026-01-01T10:00:00Z"), "u1")

		// The earlier snapshot and its entries are untouched.
		if before[0] != beforeEntry || before[0].UnreadCount != 0 {
			t.Fatal("earlier conversation snapshot changed")
		}

		after, _ := s.Conversations()
		if after[0].ID != "c2" {
			t.Fatalf("expected c2 at the front, got %s", after[0].ID)
		}
		if after[0].UnreadCount != 1 {
			t.Fatalf("expected unread 1, got %d", after[0].UnreadCount)
		}
	})
}

// ============================================================================
// Merge and unread counting
// ============================================================================

func TestStoreMergeMessage(t *testing.T) {
	t.Run("counts unread for background conversation", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")

		s.MergeMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"), "u1")
		if got := s.Conversation("c1").UnreadCount; got != 1 {
			t.Fatalf("expected unread 1, got %d", got)
		}
	})

	t.Run("own messages are never unread", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")

		s.MergeMessage(makeMessage("m1", "c1", "u1", "2026-01-01T10:00:00Z"), "u1")
		if got := s.Conversation("c1").UnreadCount; got != 0 {
			t.Fatalf("expected unread 0 for own message, got %d", got)
		}
	})

	t.Run("active conversation does not count unread", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")
		s.SetActiveConversation("c1")

		s.MergeMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"), "u1")
		if got := s.Conversation("c1").UnreadCount; got != 0 {
			t.Fatalf("expected unread 0 for active conversation, got %d", got)
		}
	})

	t.Run("updates summary and ordering", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1", "c2", "c3")

		m := makeMessage("m1", "c3", "u2", "2026-01-01T10:00:00Z")
		s.MergeMessage(m, "u1")

		list, _ := s.Conversations()
		if list[0].ID != "c3" {
			t.Fatalf("expected c3 first, got %s", list[0].ID)
		}
		if list[0].LastMessage == nil || list[0].LastMessage.ID != "m1" {
			t.Fatal("expected last message summary to be updated")
		}
		if list[0].LastMessageAt != m.CreatedAt {
			t.Fatalf("expected lastMessageAt %s, got %s", m.CreatedAt, list[0].LastMessageAt)
		}
	})

	t.Run("duplicate merge does not double count", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")

		m := makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z")
		s.MergeMessage(m, "u1")
		s.MergeMessage(m, "u1")

		if got := s.Conversation("c1").UnreadCount; got != 1 {
			t.Fatalf("expected unread 1 after duplicate delivery, got %d", got)
		}
	})

	t.Run("zero unread after acknowledgement", func(t *testing.T) {
		s := NewStore()
		seedConversations(s, "c1")
		s.MergeMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"), "u1")

		s.ZeroUnread("c1")
		if got := s.Conversation("c1").UnreadCount; got != 0 {
			t.Fatalf("expected unread 0, got %d", got)
		}
	})
}

// ============================================================================
// LastMessage
// ============================================================================

func TestStoreLastMessage(t *testing.T) {
	t.Run("from cached history", func(t *testing.T) {
		s := NewStore()
		s.InsertMessage(makeMessage("m1", "c1", "u2", "2026-01-01T10:00:00Z"))
		s.InsertMessage(makeMessage("m2", "c1", "u2", "2026-01-01T10:01:00Z"))

		last := s.LastMessage("c1")
		if last == nil || last.ID != "m2" {
			t.Fatalf("expected m2, got %+v", last)
		}
	})

	t.Run("falls back to conversation summary", func(t *testing.T) {
		s := NewStore()
		convo := makeConversation("c1", 2)
		convo.LastMessage = makeMessage("m9", "c1", "u2", "2026-01-01T10:00:00Z")
		s.ApplyConversationPage(&ConversationPage{Conversations: []*Conversation{convo}, Page: 1})

		last := s.LastMessage("c1")
		if last == nil || last.ID != "m9" {
			t.Fatalf("expected summary fallback m9, got %+v", last)
		}
	})

	t.Run("nil when nothing is known", func(t *testing.T) {
		s := NewStore()
		if s.LastMessage("c1") != nil {
			t.Fatal("expected nil for unknown conversation")
		}
	})
}

// ============================================================================
// Notifications
// ============================================================================

func TestStoreNotifications(t *testing.T) {
	t.Run("push prepends and counts unread", func(t *testing.T) {
		s := NewStore()
		s.InsertNotification(makeNotification("n1", "2026-01-01T10:00:00Z"))
		s.InsertNotification(makeNotification("n2", "2026-01-01T10:01:00Z"))

		list := s.Notifications()
		if len(list) != 2 || list[0].ID != "n2" {
			t.Fatalf("expected n2 first, got %v", list)
		}
		if got := s.UnreadNotifications(); got != 2 {
			t.Fatalf("expected 2 unread, got %d", got)
		}
	})

	t.Run("duplicate push is a no-op", func(t *testing.T) {
		s := NewStore()
		s.InsertNotification(makeNotification("n1", "2026-01-01T10:00:00Z"))
		if s.InsertNotification(makeNotification("n1", "2026-01-01T10:00:00Z")) {
			t.Fatal("expected duplicate to be rejected")
		}
		if got := s.UnreadNotifications(); got != 1 {
			t.Fatalf("expected 1 unread, got %d", got)
		}
	})

	t.Run("page replaces and recounts", func(t *testing.T) {
		s := NewStore()
		s.InsertNotification(makeNotification("n1", "2026-01-01T10:00:00Z"))

		read := makeNotification("n2", "2026-01-01T10:01:00Z")
		read.IsRead = true
		s.ApplyNotificationPage(&NotificationPage{
			Notifications: []*Notification{read, makeNotification("n3", "2026-01-01T10:02:00Z")},
			Page:          1,
		})

		list := s.Notifications()
		if len(list) != 2 || list[0].ID != "n3" {
			t.Fatalf("expected newest-first [n3 n2], got %v", list)
		}
		if got := s.UnreadNotifications(); got != 1 {
			t.Fatalf("expected 1 unread after recount, got %d", got)
		}
	})

	t.Run("mark read clones the entry", func(t *testing.T) {
		s := NewStore()
		s.InsertNotification(makeNotification("n1", "2026-01-01T10:00:00Z"))

		before := s.Notifications()
		s.MarkNotificationRead("n1")

		if before[0].IsRead {
			t.Fatal("earlier snapshot changed")
		}
		if !s.Notifications()[0].IsRead {
			t.Fatal("expected n1 to be read")
		}
		if got := s.UnreadNotifications(); got != 0 {
			t.Fatalf("expected 0 unread, got %d", got)
		}
	})

	t.Run("mark all read", func(t *testing.T) {
		s := NewStore()
		for i := 0; i < 3; i++ {
			s.InsertNotification(makeNotification(fmt.Sprintf("n%d", i), "2026-01-01T10:00:00Z"))
		}
		s.MarkAllNotificationsRead()

		if got := s.UnreadNotifications(); got != 0 {
			t.Fatalf("expected 0 unread, got %d", got)
		}
		for _, n := range s.Notifications() {
			if !n.IsRead {
				t.Fatalf("expected %s to be read", n.ID)
			}
		}
	})
}
