package connector

import (
	"context"
	"sync"
)

// Connector is the interface for external messaging platforms
// (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a message sent to an external platform.
type OutboundMessage struct {
	ChatID  string // Platform-specific chat identifier
	Content string // Message text
}

// InboundMessage is a message received from an external platform.
type InboundMessage struct {
	Channel  string // Connector name (e.g., "telegram")
	SenderID string // Platform-specific sender identifier
	ChatID   string // Platform-specific chat identifier
	Content  string // Message text
}

// InboundHandler processes a message from an external platform and
// returns the bot's reply. Implementations run one conversation turn.
type InboundHandler func(ctx context.Context, msg InboundMessage) (string, error)

// ThreadMap ties platform chat identifiers to conversation thread ids
// so a Telegram chat or Slack thread stays on one conversation across
// messages. Safe for concurrent use.
type ThreadMap struct {
	mu      sync.Mutex
	threads map[string]string
}

// NewThreadMap creates an empty thread map.
func NewThreadMap() *ThreadMap {
	return &ThreadMap{threads: make(map[string]string)}
}

// Get returns the thread id for a chat key, or "" if none is bound yet.
func (m *ThreadMap) Get(chatKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[chatKey]
}

// Set binds a chat key to a thread id.
func (m *ThreadMap) Set(chatKey, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[chatKey] = threadID
}

// Reset drops the binding for a chat key so its next message starts a
// fresh conversation.
func (m *ThreadMap) Reset(chatKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, chatKey)
}
