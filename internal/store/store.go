// ABOUTME: Store interface and data types for medibridge persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role constants identify which participant produced a message
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// Defaults applied when a conversation is created without explicit values
const (
	DefaultTitle           = "New Conversation"
	DefaultDoctorLanguage  = "en"
	DefaultPatientLanguage = "es"
)

// ValidRole reports whether role names one of the two conversation participants.
func ValidRole(role string) bool {
	return role == RoleDoctor || role == RolePatient
}

// Conversation is a bilingual exchange between a doctor and a patient
type Conversation struct {
	ID              string
	Title           string
	DoctorLanguage  string
	PatientLanguage string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// MessageCount is populated by read operations only
	MessageCount int
}

// Languages returns the (source, target) pair for a message produced by role.
// Doctors speak doctor_language and are translated into patient_language;
// patients the reverse.
func (c *Conversation) Languages(role string) (source, target string) {
	if role == RoleDoctor {
		return c.DoctorLanguage, c.PatientLanguage
	}
	return c.PatientLanguage, c.DoctorLanguage
}

// Message is one immutable, translated utterance within a conversation
type Message struct {
	ID                 string
	ConversationID     string
	Role               string
	OriginalText       string
	TranslatedText     string
	OriginalLanguage   string
	TranslatedLanguage string
	AudioURL           *string // uploaded voice input, if any
	TranslatedAudioURL *string // synthesized speech for the translation, if any
	Timestamp          time.Time
}

// SearchResult is a message matching a search query, with its neighbours for context
type SearchResult struct {
	ConversationID    string
	ConversationTitle string
	MessageID         string
	Role              string
	OriginalText      string
	TranslatedText    string
	Timestamp         time.Time
	ContextBefore     string
	ContextAfter      string
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	// RenameConversation sets the title (empty keeps it) and advances updated_at
	RenameConversation(ctx context.Context, id, title string, at time.Time) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages. CreateMessage also advances the owning conversation's
	// updated_at in the same transaction.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// Search
	SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error)

	// Ping reports whether the store can serve requests
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
