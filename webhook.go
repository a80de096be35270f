package beacon

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookPayload is a push event delivered over HTTP to a registered
// endpoint, for headless consumers that do not hold a socket. Exactly one of
// Message and Notification is set, matching Event.
type WebhookPayload struct {
	Source       string        `json:"source"`
	Event        EventKind     `json:"event"`
	Timestamp    int64         `json:"timestamp"`
	Message      *Message      `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Actor        *User         `json:"actor,omitempty"`
}

// PushEvent converts the payload into the same tagged variant the socket
// layer produces, so one dispatch path serves both transports.
func (p *WebhookPayload) PushEvent() (PushEvent, error) {
	switch p.Event {
	case EventNewMessage:
		if p.Message == nil {
			return PushEvent{}, fmt.Errorf("newMessage webhook without message")
		}
		return PushEvent{Kind: EventNewMessage, Message: p.Message}, nil
	case EventNewNotification:
		if p.Notification == nil {
			return PushEvent{}, fmt.Errorf("newNotification webhook without notification")
		}
		return PushEvent{Kind: EventNewNotification, Notification: p.Notification}, nil
	default:
		return PushEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, p.Event)
	}
}

// WebhookReply is an optional reply a handler can post back into the
// originating conversation.
type WebhookReply struct {
	Content string `json:"content"`
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) (*WebhookReply, error)

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a Beacon webhook signature using
// HMAC-SHA256 with constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != "beacon" {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	switch payload.Event {
	case EventNewMessage:
		if payload.Message == nil || payload.Message.ID == "" {
			return nil, fmt.Errorf("missing message in newMessage webhook")
		}
	case EventNewNotification:
		if payload.Notification == nil || payload.Notification.ID == "" {
			return nil, fmt.Errorf("missing notification in newNotification webhook")
		}
	}

	return &payload, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook handles Beacon webhook verification, parsing, and dispatch.
type Webhook struct {
	secret  string
	onEvent WebhookHandlerFunc
}

// NewWebhook creates a new webhook handler.
func NewWebhook(secret string, onEvent WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if onEvent == nil {
		return nil, fmt.Errorf("webhook handler is required")
	}
	return &Webhook{
		secret:  secret,
		onEvent: onEvent,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	reply, err := w.onEvent(payload)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}

	if reply != nil {
		return http.StatusOK, reply
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := beacon.NewWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-Beacon-Signature")

		statusCode, data := w.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *Webhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
