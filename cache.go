package beacon

import (
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Store
// ============================================================================

// Store is the local merge cache behind the real-time layer: the conversation
// list, per-conversation message history, and the notification feed, each with
// its pagination cursors. All mutations are serialized behind one mutex and
// every list rewrite replaces the slice header instead of mutating shared
// backing arrays, so a slice handed out earlier never changes underneath its
// reader.
type Store struct {
	mu sync.RWMutex

	conversations []*Conversation
	convoIndex    map[string]int
	convosLoaded  bool
	convosStale   bool
	convoPage     int
	convoHasMore  bool
	convoGen      uint64

	messages    map[string][]*Message
	msgPages    map[string]*PageMeta
	activeConvo string

	notifications []*Notification
	notifPage     int
	notifHasMore  bool
	unreadNotifs  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		convoIndex: make(map[string]int),
		messages:   make(map[string][]*Message),
		msgPages:   make(map[string]*PageMeta),
	}
}

// timestampLess compares two creation timestamps. RFC 3339 strings compare
// correctly as time values; anything unparseable falls back to string order.
func timestampLess(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	return a < b
}

// ============================================================================
// Conversations
// ============================================================================

// Conversations returns the cached conversation list (most recent first) and
// whether the list is stale and should be refetched.
func (s *Store) Conversations() (list []*Conversation, stale bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations, s.convosStale || !s.convosLoaded
}

// Conversation returns the cached entry for id, or nil.
func (s *Store) Conversation(id string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.convoIndex[id]; ok {
		return s.conversations[i]
	}
	return nil
}

// HasConversation reports whether id is present in the cached list.
func (s *Store) HasConversation(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convoIndex[id]
	return ok
}

// InvalidateConversations marks the conversation list stale. The next reader
// is expected to refetch; push payloads too partial to merge end up here.
func (s *Store) InvalidateConversations() {
	s.mu.Lock()
	s.convosStale = true
	s.convoGen++
	s.mu.Unlock()
}

// ConversationGeneration returns the invalidation counter, bumped every time
// the list is invalidated or rewritten.
func (s *Store) ConversationGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convoGen
}

// ApplyConversationPage merges a server page into the list. The first page
// replaces the cached list; later pages append, deduplicated by id. Applying
// any page clears the stale flag.
func (s *Store) ApplyConversationPage(page *ConversationPage) {
	if page == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next []*Conversation
	if page.Page <= 1 {
		next = make([]*Conversation, 0, len(page.Conversations))
	} else {
		next = make([]*Conversation, len(s.conversations), len(s.conversations)+len(page.Conversations))
		copy(next, s.conversations)
	}

	seen := make(map[string]struct{}, len(next))
	for _, c := range next {
		seen[c.ID] = struct{}{}
	}
	for _, c := range page.Conversations {
		if c == nil || c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		next = append(next, c)
	}

	s.conversations = next
	s.reindexLocked()
	s.convosLoaded = true
	s.convosStale = false
	s.convoPage = page.Page
	s.convoHasMore = page.HasMore
	s.convoGen++
}

// bumpConversationLocked refreshes a conversation's summary for a newly
// arrived message and moves it to the front of the list. The entry is cloned
// so previously returned slices keep their old view.
func (s *Store) bumpConversationLocked(m *Message, countUnread bool) {
	i, ok := s.convoIndex[m.ConversationID]
	if !ok {
		return
	}
	old := s.conversations[i]
	updated := *old
	updated.LastMessage = m
	updated.LastMessageAt = m.CreatedAt
	if countUnread {
		updated.UnreadCount = old.UnreadCount + 1
	}

	next := make([]*Conversation, 0, len(s.conversations))
	next = append(next, &updated)
	for j, c := range s.conversations {
		if j != i {
			next = append(next, c)
		}
	}
	s.conversations = next
	s.reindexLocked()
	s.convoGen++
}

// ZeroUnread sets a conversation's unread count to zero after a successful
// read acknowledgement.
func (s *Store) ZeroUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.convoIndex[conversationID]
	if !ok || s.conversations[i].UnreadCount == 0 {
		return
	}
	updated := *s.conversations[i]
	updated.UnreadCount = 0

	next := make([]*Conversation, len(s.conversations))
	copy(next, s.conversations)
	next[i] = &updated
	s.conversations = next
	s.convoGen++
}

func (s *Store) reindexLocked() {
	index := make(map[string]int, len(s.conversations))
	for i, c := range s.conversations {
		index[c.ID] = i
	}
	s.convoIndex = index
}

// SetActiveConversation records which conversation is currently viewed.
// Messages pushed into the active conversation do not count as unread.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	s.activeConvo = id
	s.mu.Unlock()
}

// ActiveConversation returns the currently viewed conversation id, if any.
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeConvo
}

// ============================================================================
// Messages
// ============================================================================

// Messages returns a conversation's cached history, oldest first.
func (s *Store) Messages(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[conversationID]
}

// InsertMessage merges one message into its conversation's history.
// Insertion is idempotent: a message whose id is already cached is a no-op
// (duplicate delivery from reconnect or replay). A confirmed message replaces
// a pending local echo with the same client id. Out-of-order arrivals are
// placed by creation time rather than appended blindly.
//
// Returns true if the cache changed.
func (s *Store) InsertMessage(m *Message) bool {
	if m == nil || m.ID == "" || m.ConversationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMessageLocked(m)
}

func (s *Store) insertMessageLocked(m *Message) bool {
	list := s.messages[m.ConversationID]

	replaceAt := -1
	for i, existing := range list {
		if existing.ID == m.ID {
			return false
		}
		if m.ClientID != "" && existing.Pending && existing.ClientID == m.ClientID {
			replaceAt = i
		}
	}

	next := make([]*Message, 0, len(list)+1)
	if replaceAt >= 0 {
		next = append(next, list[:replaceAt]...)
		next = append(next, list[replaceAt+1:]...)
	} else {
		next = append(next, list...)
	}

	// Common case: append at the tail. Otherwise find the slot by timestamp.
	pos := len(next)
	for pos > 0 && timestampLess(m.CreatedAt, next[pos-1].CreatedAt) {
		pos--
	}
	next = append(next, nil)
	copy(next[pos+1:], next[pos:])
	next[pos] = m

	s.messages[m.ConversationID] = next
	return true
}

// MergeMessage inserts a message and refreshes the owning conversation's
// summary. Unread is not counted for the active conversation or for the
// current user's own messages.
func (s *Store) MergeMessage(m *Message, selfID string) bool {
	if m == nil || m.ID == "" || m.ConversationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.insertMessageLocked(m) {
		return false
	}
	countUnread := m.SenderID != selfID && m.ConversationID != s.activeConvo && !m.Pending
	s.bumpConversationLocked(m, countUnread)
	return true
}

// ApplyMessagePage merges a history page into a conversation's cache with the
// same dedupe and ordering rules as push inserts.
func (s *Store) ApplyMessagePage(conversationID string, page *MessagePage) {
	if page == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range page.Messages {
		if m == nil || m.ID == "" {
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		s.insertMessageLocked(m)
	}
	s.msgPages[conversationID] = &PageMeta{Page: page.Page, HasMore: page.HasMore}
}

// MessagePageMeta returns the pagination cursor for a conversation's history.
func (s *Store) MessagePageMeta(conversationID string) *PageMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msgPages[conversationID]
}

// DeleteMessage removes a message from its conversation's cache.
func (s *Store) DeleteMessage(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	for i, m := range list {
		if m.ID == messageID {
			next := make([]*Message, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			s.messages[conversationID] = next
			return
		}
	}
}

// LastMessage returns the newest cached message of a conversation, or nil.
func (s *Store) LastMessage(conversationID string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	if len(list) == 0 {
		if i, ok := s.convoIndex[conversationID]; ok {
			return s.conversations[i].LastMessage
		}
		return nil
	}
	return list[len(list)-1]
}

// ============================================================================
// Notifications
// ============================================================================

// Notifications returns the cached feed, newest first.
func (s *Store) Notifications() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifications
}

// UnreadNotifications returns the unread counter for the feed.
func (s *Store) UnreadNotifications() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadNotifs
}

// InsertNotification prepends a pushed notification, deduplicated by id, and
// bumps the unread counter unless the entity is already read.
func (s *Store) InsertNotification(n *Notification) bool {
	if n == nil || n.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return false
		}
	}

	next := make([]*Notification, 0, len(s.notifications)+1)
	next = append(next, n)
	next = append(next, s.notifications...)
	s.notifications = next
	if !n.IsRead {
		s.unreadNotifs++
	}
	return true
}

// ApplyNotificationPage merges a feed page. The first page replaces the feed
// and recounts unread; later pages append, deduplicated by id and kept in
// newest-first order.
func (s *Store) ApplyNotificationPage(page *NotificationPage) {
	if page == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next []*Notification
	if page.Page <= 1 {
		next = make([]*Notification, 0, len(page.Notifications))
	} else {
		next = make([]*Notification, len(s.notifications), len(s.notifications)+len(page.Notifications))
		copy(next, s.notifications)
	}

	seen := make(map[string]struct{}, len(next))
	for _, n := range next {
		seen[n.ID] = struct{}{}
	}
	for _, n := range page.Notifications {
		if n == nil || n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		next = append(next, n)
	}
	sort.SliceStable(next, func(i, j int) bool {
		return timestampLess(next[j].CreatedAt, next[i].CreatedAt)
	})

	s.notifications = next
	s.notifPage = page.Page
	s.notifHasMore = page.HasMore

	unread := 0
	for _, n := range next {
		if !n.IsRead {
			unread++
		}
	}
	s.unreadNotifs = unread
}

// MarkNotificationRead flips one notification to read, cloning the entry so
// shared slices stay stable.
func (s *Store) MarkNotificationRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if n.ID == id {
			if n.IsRead {
				return
			}
			updated := *n
			updated.IsRead = true

			next := make([]*Notification, len(s.notifications))
			copy(next, s.notifications)
			next[i] = &updated
			s.notifications = next
			if s.unreadNotifs > 0 {
				s.unreadNotifs--
			}
			return
		}
	}
}

// MarkAllNotificationsRead flips the whole feed to read.
func (s *Store) MarkAllNotificationsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*Notification, len(s.notifications))
	for i, n := range s.notifications {
		if n.IsRead {
			next[i] = n
			continue
		}
		updated := *n
		updated.IsRead = true
		next[i] = &updated
	}
	s.notifications = next
	s.unreadNotifs = 0
}
