package bot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway implements Gateway and Replier for testing. It records sent
// messages and allows simulating inbound messages via SimulateInbound.
type MockGateway struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	connects  int
	inbound   chan InboundMessage
	sent      []OutboundMessage
	names     map[string]string
	failSend  map[string]error
	failReply error
}

// NewMockGateway creates a MockGateway with a buffered inbound channel.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		inbound:  make(chan InboundMessage, 100),
		names:    make(map[string]string),
		failSend: make(map[string]error),
	}
}

// Connect marks the gateway as connected.
func (m *MockGateway) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock gateway: already closed")
	}
	m.connected = true
	m.connects++
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockGateway) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock gateway: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockGateway) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock gateway: not connected")
	}
	if err := m.failSend[msg.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Reply records a reply as a message to the original sender.
func (m *MockGateway) Reply(ctx context.Context, to InboundMessage, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReply != nil {
		return m.failReply
	}
	m.sent = append(m.sent, OutboundMessage{To: to.SenderID, Text: text})
	return nil
}

// DisplayName returns the name registered with SetName.
func (m *MockGateway) DisplayName(ctx context.Context, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[identity]
	if !ok {
		return "", fmt.Errorf("mock gateway: unknown contact %s", identity)
	}
	return name, nil
}

// Close shuts down the mock gateway and closes the inbound channel.
func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockGateway) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.mu.Lock()
	ch := m.inbound
	m.mu.Unlock()
	ch <- msg
}

// SimulateDisconnect closes the current inbound channel as a dropped
// connection would, and prepares a fresh one for the next Listen.
func (m *MockGateway) SimulateDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.inbound)
	m.inbound = make(chan InboundMessage, 100)
	m.connected = false
}

// Connects returns how many times Connect succeeded.
func (m *MockGateway) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// SetName registers a contact display name.
func (m *MockGateway) SetName(identity, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[identity] = name
}

// FailSendTo makes every Send to identity return err.
func (m *MockGateway) FailSendTo(identity string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend[identity] = err
}

// FailReplies makes every Reply return err.
func (m *MockGateway) FailReplies(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReply = err
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockGateway) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockGateway) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// SentTo returns the texts sent to identity, in order.
func (m *MockGateway) SentTo(identity string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == identity {
			out = append(out, s.Text)
		}
	}
	return out
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockGateway) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
