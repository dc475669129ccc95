// ABOUTME: Mirrors committed messages onto NATS subjects for other processes
// ABOUTME: Implements conversation.Publisher; local realtime delivery never depends on it

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/medibridge/internal/store"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "medibridge.messages"

// Event is the JSON payload published for each message.
type Event struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	Role               string    `json:"role"`
	OriginalText       string    `json:"original_text"`
	TranslatedText     string    `json:"translated_text"`
	OriginalLanguage   string    `json:"original_language"`
	TranslatedLanguage string    `json:"translated_language"`
	AudioURL           *string   `json:"audio_url"`
	TranslatedAudioURL *string   `json:"translated_audio_url"`
	Timestamp          time.Time `json:"timestamp"`
}

// EventFromMessage converts a stored message into its wire form.
func EventFromMessage(m *store.Message) Event {
	return Event{
		ID:                 m.ID,
		ConversationID:     m.ConversationID,
		Role:               m.Role,
		OriginalText:       m.OriginalText,
		TranslatedText:     m.TranslatedText,
		OriginalLanguage:   m.OriginalLanguage,
		TranslatedLanguage: m.TranslatedLanguage,
		AudioURL:           m.AudioURL,
		TranslatedAudioURL: m.TranslatedAudioURL,
		Timestamp:          m.Timestamp,
	}
}

// Message converts the event back into a store message.
func (e Event) Message() *store.Message {
	return &store.Message{
		ID:                 e.ID,
		ConversationID:     e.ConversationID,
		Role:               e.Role,
		OriginalText:       e.OriginalText,
		TranslatedText:     e.TranslatedText,
		OriginalLanguage:   e.OriginalLanguage,
		TranslatedLanguage: e.TranslatedLanguage,
		AudioURL:           e.AudioURL,
		TranslatedAudioURL: e.TranslatedAudioURL,
		Timestamp:          e.Timestamp,
	}
}

// Relay publishes messages to <prefix>.<conversation_id>.
type Relay struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials the given NATS servers.
func Connect(servers []string, prefix string, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	logger = logger.With("component", "relay")

	url := strings.Join(servers, ",")
	conn, err := nats.Connect(url,
		nats.Name("medibridge"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("relay disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("relay reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	logger.Info("connected to NATS", "servers", url, "subject_prefix", prefix)

	return &Relay{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject for a conversation; "*" matches all of them.
func (r *Relay) Subject(conversationID string) string {
	return r.prefix + "." + conversationID
}

// Publish implements conversation.Publisher.
func (r *Relay) Publish(_ context.Context, msg *store.Message) error {
	data, err := json.Marshal(EventFromMessage(msg))
	if err != nil {
		return fmt.Errorf("encoding message %s: %w", msg.ID, err)
	}
	if err := r.conn.Publish(r.Subject(msg.ConversationID), data); err != nil {
		return fmt.Errorf("publishing message %s: %w", msg.ID, err)
	}
	return nil
}

// Subscribe calls fn for every event on the conversation's subject. Pass
// "*" to follow every conversation. Undecodable payloads are logged and skipped.
func (r *Relay) Subscribe(conversationID string, fn func(Event)) (*nats.Subscription, error) {
	sub, err := r.conn.Subscribe(r.Subject(conversationID), func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			r.logger.Warn("failed to decode relay event", "subject", m.Subject, "error", err)
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", r.Subject(conversationID), err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (r *Relay) Flush(ctx context.Context) error {
	return r.conn.FlushWithContext(ctx)
}

// Healthy reports whether the connection is up.
func (r *Relay) Healthy() bool {
	return r != nil && r.conn != nil && r.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection. Safe on nil.
func (r *Relay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	r.logger.Info("closing NATS connection")
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
	}
}
