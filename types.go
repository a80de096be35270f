package beacon

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  *PageMeta       `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// PageMeta carries pagination cursors returned alongside list responses.
type PageMeta struct {
	Page       int  `json:"page"`
	TotalPages int  `json:"totalPages,omitempty"`
	HasMore    bool `json:"hasMore"`
}

// ============================================================================
// Entity Types
// ============================================================================

// ConversationKind distinguishes one-to-one chats from group chats.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Participant is a member of a conversation.
type Participant struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Conversation is a chat thread with its denormalized summary fields.
type Conversation struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"kind"`
	Name          string           `json:"name,omitempty"` // group display name
	Participants  []Participant    `json:"participants,omitempty"`
	LastMessage   *Message         `json:"lastMessage,omitempty"`
	LastMessageAt string           `json:"lastMessageAt,omitempty"`
	UnreadCount   int              `json:"unreadCount"`
	CreatedAt     string           `json:"createdAt,omitempty"`
}

// Message is a single chat message. Immutable once created except for ReadBy.
type Message struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"clientId,omitempty"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        string          `json:"content"`
	CreatedAt      string          `json:"createdAt"`
	ReadBy         map[string]bool `json:"readBy,omitempty"` // recipient id -> seen
	Pending        bool            `json:"pending,omitempty"`
}

// NotificationType tags what a notification is about.
type NotificationType string

const (
	NotificationNewMessage NotificationType = "new_message"
	NotificationFollow     NotificationType = "follow"
	NotificationLike       NotificationType = "like"
	NotificationComment    NotificationType = "comment"
	NotificationNewEvent   NotificationType = "new_event"
	NotificationNewGroup   NotificationType = "new_group"
	NotificationGroupJoin  NotificationType = "group_join"
)

// Notification is a single item in the current user's notification feed.
// ActorID or Content may be empty on partial payloads; consumers render a
// fallback rather than rejecting the entity.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	ActorID   string           `json:"actorId,omitempty"`
	Content   string           `json:"content,omitempty"`
	TargetID  string           `json:"targetId,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt string           `json:"createdAt"`
}

// ============================================================================
// Account Types
// ============================================================================

// User is the authenticated account's public identity.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// MeData is returned by Account.Me.
type MeData struct {
	User                User `json:"user"`
	ConversationCount   int  `json:"conversationCount"`
	UnreadConversations int  `json:"unreadConversations"`
	UnreadNotifications int  `json:"unreadNotifications"`
}

// TokenData is returned by Account.RefreshToken.
type TokenData struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn"`
}

// ============================================================================
// Request Options
// ============================================================================

// PageOptions selects a page of a list endpoint.
type PageOptions struct {
	Page  int
	Limit int
}

// SendOptions configures Messages.Send.
type SendOptions struct {
	ClientID string `json:"clientId,omitempty"` // idempotency key for replays
}

// ============================================================================
// Response Payloads
// ============================================================================

// ConversationPage is a page of the conversation list.
type ConversationPage struct {
	Conversations []*Conversation `json:"conversations"`
	Page          int             `json:"page"`
	HasMore       bool            `json:"hasMore"`
}

// MessagePage is a page of a conversation's history, oldest first.
type MessagePage struct {
	Messages []*Message `json:"messages"`
	Page     int        `json:"page"`
	HasMore  bool       `json:"hasMore"`
}

// NotificationPage is a page of the notification feed, newest first.
type NotificationPage struct {
	Notifications []*Notification `json:"notifications"`
	Page          int             `json:"page"`
	HasMore       bool            `json:"hasMore"`
}

// SendData is returned by Messages.Send.
type SendData struct {
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
}

// MarkReadData is returned by Conversations.MarkRead.
type MarkReadData struct {
	ConversationID    string `json:"conversationId"`
	LastReadMessageID string `json:"lastReadMessageId"`
}
