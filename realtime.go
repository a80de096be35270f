package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// Envelope is the wire format for all real-time frames.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventKind identifies a server push event. The set is closed: decoding an
// unknown type yields ErrUnknownEvent and the frame is skipped.
type EventKind string

const (
	EventNewMessage      EventKind = "newMessage"
	EventNewConversation EventKind = "newConversation"
	EventNewNotification EventKind = "newNotification"
)

// ReadyPayload is the first frame after a successful dial, confirming the
// identity the socket is bound to.
type ReadyPayload struct {
	UserID string `json:"userId"`
}

// ConversationHint is the payload of a newConversation push. It may omit the
// denormalized participant details needed for display, so the cache layer
// refetches the conversation list instead of merging it directly.
type ConversationHint struct {
	ID   string           `json:"id"`
	Kind ConversationKind `json:"kind,omitempty"`
}

type pongPayload struct {
	RequestID string `json:"requestId"`
}

// PushEvent is a decoded push frame: Kind plus exactly one non-nil payload.
type PushEvent struct {
	Kind         EventKind
	Message      *Message
	Conversation *ConversationHint
	Notification *Notification
}

// ErrUnknownEvent is returned when a frame's type is outside the known set.
var ErrUnknownEvent = fmt.Errorf("unknown event type")

// DecodePushEvent decodes an envelope into a typed push event.
func DecodePushEvent(env Envelope) (PushEvent, error) {
	switch EventKind(env.Type) {
	case EventNewMessage:
		var m Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return PushEvent{}, fmt.Errorf("decode newMessage: %w", err)
		}
		return PushEvent{Kind: EventNewMessage, Message: &m}, nil
	case EventNewConversation:
		var c ConversationHint
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return PushEvent{}, fmt.Errorf("decode newConversation: %w", err)
		}
		return PushEvent{Kind: EventNewConversation, Conversation: &c}, nil
	case EventNewNotification:
		var n Notification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return PushEvent{}, fmt.Errorf("decode newNotification: %w", err)
		}
		return PushEvent{Kind: EventNewNotification, Notification: &n}, nil
	default:
		return PushEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type)
	}
}

// ============================================================================
// Configuration
// ============================================================================

// SocketConfig configures the real-time socket.
type SocketConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// SocketState represents the connection state.
type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateReconnecting SocketState = "reconnecting"
)

// ============================================================================
// Subscription
// ============================================================================

// subscription holds the handlers registered on one socket. A socket owns
// exactly one subscription for its whole life; rebinding an identity creates
// a fresh socket, so handlers can never double-register across identities.
type subscription struct {
	mu             sync.RWMutex
	onEvent        []func(PushEvent)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
	closed         bool
}

func newSubscription() *subscription {
	return &subscription{}
}

// dispatch delivers one push event synchronously, preserving arrival order.
func (s *subscription) dispatch(ev PushEvent) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	handlers := s.onEvent
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *subscription) emitConnected() {
	s.mu.RLock()
	handlers := append([]func(){}, s.onConnected...)
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	for _, h := range handlers {
		h()
	}
}

func (s *subscription) emitDisconnected(reason string) {
	s.mu.RLock()
	handlers := append([]func(string){}, s.onDisconnected...)
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	for _, h := range handlers {
		h(reason)
	}
}

func (s *subscription) emitReconnecting(attempt int, delay time.Duration) {
	s.mu.RLock()
	handlers := append([]func(int, time.Duration){}, s.onReconnecting...)
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// close detaches every handler. Events arriving afterwards are dropped.
func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.onEvent = nil
	s.onConnected = nil
	s.onDisconnected = nil
	s.onReconnecting = nil
	s.mu.Unlock()
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *SocketConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WSSocket
// ============================================================================

// WSSocket is a WebSocket push channel bound to one user identity, with
// auto-reconnect and heartbeat. Create one via Client.Realtime.Socket.
type WSSocket struct {
	client *Client
	userID string
	config *SocketConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            SocketState
	intentionalClose bool
	cancelFn         context.CancelFunc

	sub   *subscription
	recon *reconnector

	pendingMu    sync.Mutex
	pendingPings map[string]chan pongPayload
}

// UserID returns the identity this socket was created for.
func (ws *WSSocket) UserID() string {
	return ws.userID
}

// State returns the current connection state.
func (ws *WSSocket) State() SocketState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// OnEvent registers a handler for decoded push events. Handlers run
// synchronously in arrival order on the read loop.
func (ws *WSSocket) OnEvent(h func(PushEvent)) {
	ws.sub.mu.Lock()
	ws.sub.onEvent = append(ws.sub.onEvent, h)
	ws.sub.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (ws *WSSocket) OnConnected(h func()) {
	ws.sub.mu.Lock()
	ws.sub.onConnected = append(ws.sub.onConnected, h)
	ws.sub.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ws *WSSocket) OnDisconnected(h func(reason string)) {
	ws.sub.mu.Lock()
	ws.sub.onDisconnected = append(ws.sub.onDisconnected, h)
	ws.sub.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ws *WSSocket) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ws.sub.mu.Lock()
	ws.sub.onReconnecting = append(ws.sub.onReconnecting, h)
	ws.sub.mu.Unlock()
}

// Connect dials the socket and waits for the ready handshake.
func (ws *WSSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.intentionalClose {
		ws.mu.Unlock()
		return fmt.Errorf("socket is closed")
	}
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, ws.client.Realtime.WSUrl(ws.userID), nil)
	if err != nil {
		ws.setDisconnected()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// First frame must be the ready handshake for our identity.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setDisconnected()
		return fmt.Errorf("read ready frame: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "ready" {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setDisconnected()
		return fmt.Errorf("expected 'ready', got '%s'", env.Type)
	}
	var ready ReadyPayload
	if json.Unmarshal(env.Payload, &ready) == nil && ready.UserID != "" && ready.UserID != ws.userID {
		conn.Close(websocket.StatusPolicyViolation, "identity mismatch")
		ws.setDisconnected()
		return fmt.Errorf("server bound socket to %q, expected %q", ready.UserID, ws.userID)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	ws.cancelFn = cancel
	ws.mu.Unlock()
	ws.recon.markConnected()

	ws.sub.emitConnected()

	go ws.readLoop(connCtx)
	go ws.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection and detaches all handlers.
// The socket cannot be reused afterwards; create a new one to reconnect.
func (ws *WSSocket) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	ws.clearPendingPings()
	ws.sub.emitDisconnected("client disconnect")
	ws.sub.close()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (ws *WSSocket) setDisconnected() {
	ws.mu.Lock()
	ws.state = StateDisconnected
	ws.mu.Unlock()
}

func (ws *WSSocket) send(ctx context.Context, env *Envelope) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends an application-level ping and waits for the matching pong.
func (ws *WSSocket) Ping(ctx context.Context) error {
	requestID := uuid.NewString()

	ch := make(chan pongPayload, 1)
	ws.pendingMu.Lock()
	if ws.pendingPings == nil {
		ws.pendingPings = make(map[string]chan pongPayload)
	}
	ws.pendingPings[requestID] = ch
	ws.pendingMu.Unlock()

	payload, _ := json.Marshal(map[string]string{"requestId": requestID})
	if err := ws.send(ctx, &Envelope{Type: "ping", Payload: payload}); err != nil {
		ws.dropPendingPing(requestID)
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(10 * time.Second):
		ws.dropPendingPing(requestID)
		return fmt.Errorf("ping timeout")
	case <-ctx.Done():
		ws.dropPendingPing(requestID)
		return ctx.Err()
	}
}

func (ws *WSSocket) dropPendingPing(requestID string) {
	ws.pendingMu.Lock()
	delete(ws.pendingPings, requestID)
	ws.pendingMu.Unlock()
}

func (ws *WSSocket) clearPendingPings() {
	ws.pendingMu.Lock()
	for k, ch := range ws.pendingPings {
		close(ch)
		delete(ws.pendingPings, k)
	}
	ws.pendingMu.Unlock()
}

func (ws *WSSocket) readLoop(ctx context.Context) {
	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			ws.mu.Unlock()
			if intentional {
				return
			}

			// Tear down this connection's context so its heartbeat loop
			// cannot outlive the connection and run alongside the next one.
			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.conn = nil
			cancel := ws.cancelFn
			ws.cancelFn = nil
			ws.mu.Unlock()
			if cancel != nil {
				cancel()
			}

			ws.sub.emitDisconnected(err.Error())

			if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
				ws.scheduleReconnect(context.Background())
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "pong" {
			var p pongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				ws.pendingMu.Lock()
				ch, ok := ws.pendingPings[p.RequestID]
				if ok {
					delete(ws.pendingPings, p.RequestID)
				}
				ws.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		ev, err := DecodePushEvent(env)
		if err != nil {
			// Unknown or malformed frame: skip, never crash the loop.
			continue
		}
		ws.sub.dispatch(ev)
	}
}

func (ws *WSSocket) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			s := ws.state
			ws.mu.Unlock()
			if s != StateConnected {
				return
			}

			if err := ws.Ping(ctx); err != nil {
				ws.mu.Lock()
				conn := ws.conn
				ws.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (ws *WSSocket) scheduleReconnect(ctx context.Context) {
	delay := ws.recon.nextDelay()
	ws.mu.Lock()
	ws.state = StateReconnecting
	ws.mu.Unlock()

	ws.sub.emitReconnecting(ws.recon.attempt, delay)

	select {
	case <-ctx.Done():
		ws.setDisconnected()
		return
	case <-time.After(delay):
	}

	ws.mu.Lock()
	closed := ws.intentionalClose
	ws.mu.Unlock()
	if closed {
		ws.setDisconnected()
		return
	}

	if err := ws.Connect(ctx); err != nil {
		if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
			ws.scheduleReconnect(ctx)
		} else {
			ws.setDisconnected()
		}
	}
}
