package beacon

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// SyncEngine
// ============================================================================

// SyncEngine translates push events into cache operations. It is stateless
// with respect to the events themselves: each event maps to a fixed set of
// store mutations plus, where the payload is too partial to merge, a refetch
// of the affected list.
type SyncEngine struct {
	client *Client
	store  *Store
	selfID string

	mu         sync.Mutex
	refreshing bool

	// OnRefreshError, if set, observes background refetch failures. The cache
	// keeps serving last-known-good state either way.
	OnRefreshError func(error)
}

// NewSyncEngine creates a sync engine applying events on behalf of selfID.
// client may be nil, in which case invalidations are recorded but refetches
// are left to the caller.
func NewSyncEngine(client *Client, store *Store, selfID string) *SyncEngine {
	return &SyncEngine{
		client: client,
		store:  store,
		selfID: selfID,
	}
}

// Store returns the cache this engine mutates.
func (e *SyncEngine) Store() *Store {
	return e.store
}

// Apply merges one push event into the cache. Partial or missing payloads
// degrade to an invalidation or a no-op; Apply never panics on bad input.
func (e *SyncEngine) Apply(ctx context.Context, ev PushEvent) {
	switch ev.Kind {
	case EventNewMessage:
		e.applyMessage(ctx, ev.Message)
	case EventNewConversation:
		// The push payload may omit participant details required for display,
		// so never fabricate an entry from it; refetch the list instead.
		e.store.InvalidateConversations()
		e.refreshConversations(ctx)
	case EventNewNotification:
		if ev.Notification == nil || ev.Notification.ID == "" {
			return
		}
		e.store.InsertNotification(ev.Notification)
	}
}

func (e *SyncEngine) applyMessage(ctx context.Context, m *Message) {
	if m == nil || m.ID == "" || m.ConversationID == "" {
		return
	}
	if !e.store.HasConversation(m.ConversationID) {
		// Stale list: cache the message so it is not lost, then refetch the
		// conversation list to pick up the summary entry.
		e.store.InsertMessage(m)
		e.store.InvalidateConversations()
		e.refreshConversations(ctx)
		return
	}
	e.store.MergeMessage(m, e.selfID)
}

// refreshConversations refetches page one of the conversation list in the
// background. Concurrent triggers collapse into one request.
func (e *SyncEngine) refreshConversations(ctx context.Context) {
	if e.client == nil {
		return
	}
	e.mu.Lock()
	if e.refreshing {
		e.mu.Unlock()
		return
	}
	e.refreshing = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.refreshing = false
			e.mu.Unlock()
		}()
		if err := e.LoadConversations(ctx, nil); err != nil {
			if e.OnRefreshError != nil {
				e.OnRefreshError(err)
			}
		}
	}()
}

// ============================================================================
// Initial and on-demand loads
// ============================================================================

// LoadConversations fetches a conversation page and merges it into the cache.
func (e *SyncEngine) LoadConversations(ctx context.Context, opts *PageOptions) error {
	result, err := e.client.Conversations.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if !result.OK {
		return resultErr("list conversations", result)
	}
	var page ConversationPage
	if err := result.Decode(&page); err != nil {
		return fmt.Errorf("decode conversations: %w", err)
	}
	e.store.ApplyConversationPage(&page)
	return nil
}

// LoadMessages fetches a history page for one conversation and merges it.
func (e *SyncEngine) LoadMessages(ctx context.Context, conversationID string, opts *PageOptions) error {
	result, err := e.client.Messages.History(ctx, conversationID, opts)
	if err != nil {
		return fmt.Errorf("message history: %w", err)
	}
	if !result.OK {
		return resultErr("message history", result)
	}
	var page MessagePage
	if err := result.Decode(&page); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	e.store.ApplyMessagePage(conversationID, &page)
	return nil
}

// LoadNotifications fetches a notification page and merges it.
func (e *SyncEngine) LoadNotifications(ctx context.Context, opts *PageOptions) error {
	result, err := e.client.Notifications.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	if !result.OK {
		return resultErr("list notifications", result)
	}
	var page NotificationPage
	if err := result.Decode(&page); err != nil {
		return fmt.Errorf("decode notifications: %w", err)
	}
	e.store.ApplyNotificationPage(&page)
	return nil
}

// Bootstrap loads the first page of conversations and notifications, the
// minimum the UI needs before push events start flowing.
func (e *SyncEngine) Bootstrap(ctx context.Context) error {
	if err := e.LoadConversations(ctx, nil); err != nil {
		return err
	}
	return e.LoadNotifications(ctx, nil)
}

func resultErr(op string, result *Result) error {
	if result.Error != nil {
		return fmt.Errorf("%s: %w", op, result.Error)
	}
	return fmt.Errorf("%s: request not ok", op)
}
