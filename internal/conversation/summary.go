// ABOUTME: Clinical summary of a conversation, rendered as markdown and HTML
// ABOUTME: A failing summarizer degrades to a fixed message instead of an error

package conversation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/medibridge/internal/capability"
	"github.com/2389/medibridge/internal/store"
)

// Fixed summary texts
const (
	SummaryEmpty  = "No messages in this conversation to summarize."
	SummaryFailed = "Failed to generate summary. Please try again."
)

// SummaryStore defines what summaries need from storage
type SummaryStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Summary is a generated clinical summary
type Summary struct {
	ConversationID string
	Markdown       string
	HTML           string
	MessageCount   int
	Degraded       bool
}

// Summaries produces clinical summaries from stored conversations.
type Summaries struct {
	store      SummaryStore
	summarizer capability.Summarizer
	md         goldmark.Markdown
	logger     *slog.Logger
}

// NewSummaries creates a summary service.
func NewSummaries(st SummaryStore, summarizer capability.Summarizer, logger *slog.Logger) *Summaries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summaries{
		store:      st,
		summarizer: summarizer,
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:     logger.With("component", "summary"),
	}
}

// Summarize builds the summary for a conversation. Returns a wrapped
// store.ErrNotFound if the conversation does not exist.
func (s *Summaries) Summarize(ctx context.Context, conversationID string) (*Summary, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	result := &Summary{ConversationID: conversationID, MessageCount: len(msgs)}
	if len(msgs) == 0 {
		result.Markdown = SummaryEmpty
		result.HTML = s.render(SummaryEmpty)
		return result, nil
	}

	lines := make([]capability.TranscriptLine, len(msgs))
	for i, m := range msgs {
		lines[i] = capability.TranscriptLine{Role: m.Role, Text: m.OriginalText}
	}

	var text string
	if s.summarizer != nil {
		text, err = s.summarizer.Summarize(ctx, lines)
	} else {
		err = errCapabilityUnavailable
	}
	if err != nil || text == "" {
		s.logger.Warn("summary degraded",
			"conversation_id", conversationID,
			"error", err)
		result.Markdown = SummaryFailed
		result.HTML = s.render(SummaryFailed)
		result.Degraded = true
		return result, nil
	}

	result.Markdown = text
	result.HTML = s.render(text)
	return result, nil
}

// render converts markdown to HTML. Raw HTML in the source is omitted.
func (s *Summaries) render(markdown string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &buf); err != nil {
		s.logger.Warn("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}
