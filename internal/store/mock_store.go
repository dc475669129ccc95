// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, insertion order
	messageIndex  map[string]*Message      // keyed by message ID

	// CreateMessageErr, when set, is returned by CreateMessage
	CreateMessageErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	c := *conv
	c.MessageCount = 0
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	result.MessageCount = len(m.messages[id])
	return &result, nil
}

// ListConversations returns all conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0, len(m.conversations))
	for id, c := range m.conversations {
		cp := *c
		cp.MessageCount = len(m.messages[id])
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// RenameConversation updates a conversation's title and updated_at. An
// empty title keeps the current one.
func (m *MockStore) RenameConversation(ctx context.Context, id, title string, at time.Time) (*Conversation, error) {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if title != "" {
		c.Title = title
	}
	c.UpdatedAt = at
	m.mu.Unlock()

	return m.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}

	for _, msg := range m.messages[id] {
		delete(m.messageIndex, msg.ID)
	}
	delete(m.messages, id)
	delete(m.conversations, id)
	return nil
}

// CreateMessage stores a message and touches its conversation.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	m.messageIndex[msg.ID] = &stored
	c.UpdatedAt = msg.Timestamp
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// ListMessages returns a conversation's messages oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		result[i] = &cp
	}

	// Stable sort keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// CountMessages returns the number of messages in a conversation.
func (m *MockStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID]), nil
}

// SearchMessages does a case-insensitive substring match, newest first.
func (m *MockStore) SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := foldText(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*SearchResult
	for convID, msgs := range m.messages {
		ordered := make([]*Message, len(msgs))
		copy(ordered, msgs)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		})

		for i, msg := range ordered {
			if !strings.Contains(foldText(msg.OriginalText), q) &&
				!strings.Contains(foldText(msg.TranslatedText), q) {
				continue
			}
			r := &SearchResult{
				ConversationID:    convID,
				ConversationTitle: m.conversations[convID].Title,
				MessageID:         msg.ID,
				Role:              msg.Role,
				OriginalText:      msg.OriginalText,
				TranslatedText:    msg.TranslatedText,
				Timestamp:         msg.Timestamp,
			}
			if i > 0 {
				r.ContextBefore = ordered[i-1].OriginalText
			}
			if i < len(ordered)-1 {
				r.ContextAfter = ordered[i+1].OriginalText
			}
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = make([]*SearchResult, 0)
	}
	return results, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
