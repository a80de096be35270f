// Package beacon provides the official Go SDK for the Beacon social network.
//
// The SDK covers the REST surface the real-time layer depends on
// (conversations, messages, notifications, account) and the real-time
// synchronization layer itself: a single authenticated socket, push-event
// dispatch, a local merge cache, and read-state tracking.
//
// Example:
//
//	client := beacon.NewClient("bcn-token-...")
//
//	// REST
//	convos, _ := client.Conversations.List(ctx, nil)
//	client.Messages.Send(ctx, "conv-123", "Hello!", nil)
//
//	// Real-time sync
//	session := beacon.NewSession(client, nil)
//	session.Bind(ctx, "user-123")
//	defer session.Unbind()
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.beacon.social",
	Staging:    "https://api.staging.beacon.social",
}

const (
	DefaultBaseURL = "https://api.beacon.social"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client

	Account       *AccountClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Notifications *NotificationsClient
	Realtime      *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) { c.userAgent = agent }
}

// NewClient creates a new Beacon client authenticated with a session token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Account = &AccountClient{client: c}
	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Notifications = &NotificationsClient{client: c}
	c.Realtime = &RealtimeClient{client: c}
	return c
}

// SetToken sets or updates the session token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *Client) Token() string {
	return c.token
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Page > 0 {
		q["page"] = strconv.Itoa(opts.Page)
	}
	if opts.Limit > 0 {
		q["limit"] = strconv.Itoa(opts.Limit)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Account
// ============================================================================

// AccountClient handles identity and session state.
type AccountClient struct{ client *Client }

func (a *AccountClient) Me(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "GET", "/api/me", nil, nil)
}

func (a *AccountClient) RefreshToken(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "POST", "/api/token/refresh", nil, nil)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles conversation summaries and read state.
type ConversationsClient struct{ client *Client }

func (cv *ConversationsClient) List(ctx context.Context, opts *PageOptions) (*Result, error) {
	return cv.client.do(ctx, "GET", "/api/conversations", nil, pageQuery(opts))
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Result, error) {
	return cv.client.do(ctx, "GET", "/api/conversations/"+conversationID, nil, nil)
}

func (cv *ConversationsClient) CreateDirect(ctx context.Context, userID string) (*Result, error) {
	return cv.client.do(ctx, "POST", "/api/conversations/direct", map[string]string{"userId": userID}, nil)
}

// MarkRead acknowledges everything up to and including lastMessageID.
func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID, lastMessageID string) (*Result, error) {
	return cv.client.do(ctx, "POST", "/api/conversations/"+conversationID+"/read",
		map[string]string{"lastMessageId": lastMessageID}, nil)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history and sending.
type MessagesClient struct{ client *Client }

func (m *MessagesClient) History(ctx context.Context, conversationID string, opts *PageOptions) (*Result, error) {
	return m.client.do(ctx, "GET", "/api/messages/"+conversationID, nil, pageQuery(opts))
}

func (m *MessagesClient) Send(ctx context.Context, conversationID, content string, opts *SendOptions) (*Result, error) {
	payload := map[string]string{"content": content}
	if opts != nil && opts.ClientID != "" {
		payload["clientId"] = opts.ClientID
	}
	return m.client.do(ctx, "POST", "/api/messages/"+conversationID, payload, nil)
}

func (m *MessagesClient) Edit(ctx context.Context, conversationID, messageID, content string) (*Result, error) {
	return m.client.do(ctx, "PATCH", "/api/messages/"+conversationID+"/"+messageID,
		map[string]string{"content": content}, nil)
}

func (m *MessagesClient) Delete(ctx context.Context, conversationID, messageID string) (*Result, error) {
	return m.client.do(ctx, "DELETE", "/api/messages/"+conversationID+"/"+messageID, nil, nil)
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationsClient handles the notification feed.
type NotificationsClient struct{ client *Client }

func (n *NotificationsClient) List(ctx context.Context, opts *PageOptions) (*Result, error) {
	return n.client.do(ctx, "GET", "/api/notifications", nil, pageQuery(opts))
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) (*Result, error) {
	return n.client.do(ctx, "POST", "/api/notifications/"+notificationID+"/read", nil, nil)
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) (*Result, error) {
	return n.client.do(ctx, "POST", "/api/notifications/read-all", nil, nil)
}

// ============================================================================
// Realtime factory
// ============================================================================

// RealtimeClient creates real-time socket clients bound to this API client.
type RealtimeClient struct{ client *Client }

// WSUrl returns the WebSocket URL for the given user identity.
func (r *RealtimeClient) WSUrl(userID string) string {
	base := strings.Replace(r.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	u := base + "/ws?token=" + url.QueryEscape(r.client.token)
	if userID != "" {
		u += "&userId=" + url.QueryEscape(userID)
	}
	return u
}

// Socket creates a WebSocket client bound to userID. Call Connect to dial.
func (r *RealtimeClient) Socket(userID string, config *SocketConfig) *WSSocket {
	var cfg SocketConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WSSocket{
		client: r.client,
		userID: userID,
		config: &cfg,
		state:  StateDisconnected,
		sub:    newSubscription(),
		recon:  newReconnector(&cfg),
	}
}
