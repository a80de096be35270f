package beacon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Outbox
// ============================================================================

// OutboxConfig configures the send queue.
type OutboxConfig struct {
	RetryLimit    int
	FlushInterval time.Duration
}

func (c *OutboxConfig) defaults() {
	if c.RetryLimit == 0 {
		c.RetryLimit = 5
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = time.Second
	}
}

type outboxOp struct {
	clientID       string
	conversationID string
	content        string
	localID        string
	retries        int
	createdAt      time.Time
}

// Outbox queues message sends behind an optimistic local echo. Every send
// carries a client-generated idempotency key, so a retry after an ambiguous
// failure cannot double-post, and the push copy of the same message dedupes
// against the reconciled echo in the cache.
type Outbox struct {
	client *Client
	store  *Store
	selfID string
	config OutboxConfig

	// OnConfirmed observes an echo being replaced by the server message.
	OnConfirmed func(clientID string, msg *Message)
	// OnFailed observes an op exhausting its retries.
	OnFailed func(clientID string, err error)

	mu       sync.Mutex
	ops      map[string]*outboxOp
	flushing bool
	stopCh   chan struct{}
	stopped  bool
}

// NewOutbox creates a send queue for selfID. config may be nil.
func NewOutbox(client *Client, store *Store, selfID string, config *OutboxConfig) *Outbox {
	var cfg OutboxConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Outbox{
		client: client,
		store:  store,
		selfID: selfID,
		config: cfg,
		ops:    make(map[string]*outboxOp),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (o *Outbox) Start() {
	go o.flushLoop()
}

// Stop terminates the background flush loop. Queued ops stay queued.
func (o *Outbox) Stop() {
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		close(o.stopCh)
	}
	o.mu.Unlock()
}

// Len returns the number of queued ops.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops)
}

// Send queues a message and returns the optimistic local echo already merged
// into the cache. The echo's id is provisional; the confirmed server message
// replaces it, matched by client id.
func (o *Outbox) Send(ctx context.Context, conversationID, content string) *Message {
	clientID := uuid.NewString()
	echo := &Message{
		ID:             "local-" + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       o.selfID,
		Content:        content,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		Pending:        true,
	}
	o.store.MergeMessage(echo, o.selfID)

	o.mu.Lock()
	o.ops[clientID] = &outboxOp{
		clientID:       clientID,
		conversationID: conversationID,
		content:        content,
		localID:        echo.ID,
		createdAt:      time.Now(),
	}
	o.mu.Unlock()

	go o.Flush(ctx)
	return echo
}

func (o *Outbox) flushLoop() {
	ticker := time.NewTicker(o.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.Flush(context.Background())
		}
	}
}

// Flush attempts every queued op once, oldest first. Concurrent flushes
// collapse into one.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	ready := make([]*outboxOp, 0, len(o.ops))
	for _, op := range o.ops {
		ready = append(ready, op)
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.flushing = false
		o.mu.Unlock()
	}()

	sort.Slice(ready, func(i, j int) bool { return ready[i].createdAt.Before(ready[j].createdAt) })

	for _, op := range ready {
		err := o.deliver(ctx, op)
		if err == nil {
			o.mu.Lock()
			delete(o.ops, op.clientID)
			o.mu.Unlock()
			continue
		}

		o.mu.Lock()
		op.retries++
		exhausted := op.retries >= o.config.RetryLimit
		if exhausted {
			delete(o.ops, op.clientID)
		}
		o.mu.Unlock()

		if exhausted {
			o.store.DeleteMessage(op.conversationID, op.localID)
			if o.OnFailed != nil {
				o.OnFailed(op.clientID, err)
			}
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, op *outboxOp) error {
	result, err := o.client.Messages.Send(ctx, op.conversationID, op.content,
		&SendOptions{ClientID: op.clientID})
	if err != nil {
		return err
	}
	if !result.OK {
		return resultErr("send message", result)
	}

	var data SendData
	if err := result.Decode(&data); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	if data.Message == nil || data.Message.ID == "" {
		return fmt.Errorf("send response has no message")
	}

	confirmed := *data.Message
	confirmed.ClientID = op.clientID
	confirmed.Pending = false
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = op.conversationID
	}

	// The pending echo with the same client id is replaced in place; a push
	// copy that raced ahead of this response dedupes by server id instead.
	o.store.MergeMessage(&confirmed, o.selfID)

	if o.OnConfirmed != nil {
		o.OnConfirmed(op.clientID, &confirmed)
	}
	return nil
}
