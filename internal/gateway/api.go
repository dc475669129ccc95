// ABOUTME: HTTP API handlers for conversations, messages, search, summaries, and audio
// ABOUTME: JSON in and out with snake_case fields; errors use the {"error": "..."} shape

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/medibridge/internal/audio"
	"github.com/2389/medibridge/internal/conversation"
	"github.com/2389/medibridge/internal/store"
)

const (
	// maxJSONBody bounds request bodies on JSON endpoints
	maxJSONBody = 1 << 20

	// maxUploadSize bounds uploaded audio, matching the transcription API limit
	maxUploadSize = 25 << 20
)

// SubmitMessageRequest is the JSON request body for POST /api/messages.
type SubmitMessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Text           string  `json:"text"`
	AudioURL       *string `json:"audio_url,omitempty"`
}

// MessageResponse is the JSON form of a message, also used for realtime frames.
type MessageResponse struct {
	ID                 string  `json:"id"`
	ConversationID     string  `json:"conversation_id"`
	Role               string  `json:"role"`
	OriginalText       string  `json:"original_text"`
	TranslatedText     string  `json:"translated_text"`
	OriginalLanguage   string  `json:"original_language"`
	TranslatedLanguage string  `json:"translated_language"`
	AudioURL           *string `json:"audio_url"`
	TranslatedAudioURL *string `json:"translated_audio_url"`
	Timestamp          string  `json:"timestamp"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Title           string `json:"title"`
	DoctorLanguage  string `json:"doctor_language"`
	PatientLanguage string `json:"patient_language"`
}

// RenameConversationRequest is the JSON request body for PATCH /api/conversations/{id}.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// ConversationResponse is the JSON form of a conversation.
type ConversationResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DoctorLanguage  string `json:"doctor_language"`
	PatientLanguage string `json:"patient_language"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	MessageCount    int    `json:"message_count"`
}

// DeleteConversationResponse is the JSON response for DELETE /api/conversations/{id}.
type DeleteConversationResponse struct {
	OK      bool   `json:"ok"`
	Deleted string `json:"deleted"`
}

// SearchResultResponse is one hit of GET /api/conversations/search.
type SearchResultResponse struct {
	ConversationID    string `json:"conversation_id"`
	ConversationTitle string `json:"conversation_title"`
	MessageID         string `json:"message_id"`
	Role              string `json:"role"`
	OriginalText      string `json:"original_text"`
	TranslatedText    string `json:"translated_text"`
	Timestamp         string `json:"timestamp"`
	ContextBefore     string `json:"context_before"`
	ContextAfter      string `json:"context_after"`
}

// SummaryResponse is the JSON response for POST /api/conversations/{id}/summary.
type SummaryResponse struct {
	ConversationID string `json:"conversation_id"`
	Summary        string `json:"summary"`
	SummaryHTML    string `json:"summary_html"`
	MessageCount   int    `json:"message_count"`
}

// UploadResponse is the JSON response for POST /api/audio/upload.
type UploadResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int    `json:"size"`
}

// RootResponse is the service banner returned by GET /.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:                 m.ID,
		ConversationID:     m.ConversationID,
		Role:               m.Role,
		OriginalText:       m.OriginalText,
		TranslatedText:     m.TranslatedText,
		OriginalLanguage:   m.OriginalLanguage,
		TranslatedLanguage: m.TranslatedLanguage,
		AudioURL:           m.AudioURL,
		TranslatedAudioURL: m.TranslatedAudioURL,
		Timestamp:          formatTimestamp(m.Timestamp),
	}
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		Title:           c.Title,
		DoctorLanguage:  c.DoctorLanguage,
		PatientLanguage: c.PatientLanguage,
		CreatedAt:       formatTimestamp(c.CreatedAt),
		UpdatedAt:       formatTimestamp(c.UpdatedAt),
		MessageCount:    c.MessageCount,
	}
}

// handleRoot handles GET / with a small service banner.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, RootResponse{
		Name:    "MediBridge API",
		Version: g.version,
		Status:  "running",
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"conversations": g.registry.Conversations(),
	})
}

// handleSubmitMessage handles POST /api/messages. An Idempotency-Key header
// makes retries return the originally stored message.
func (g *Gateway) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	submit := conversation.SubmitRequest{
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Text:           req.Text,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.AudioURL != nil {
		submit.AudioURL = strings.TrimSpace(*req.AudioURL)
	}

	msg, err := g.pipeline.Submit(r.Context(), submit)
	switch {
	case errors.Is(err, conversation.ErrInvalidRole):
		g.sendJSONError(w, http.StatusBadRequest, "role must be doctor or patient")
		return
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	case err != nil:
		g.logger.Error("failed to submit message", "conversation_id", req.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, toMessageResponse(msg))
}

// handleListMessages handles GET /api/conversations/{id}/messages, oldest first.
// An unknown conversation yields an empty list.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	msgs, err := g.store.ListMessages(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, toMessageResponse(m))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleCreateConversation handles POST /api/conversations. An empty body
// creates a conversation with every default.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:              uuid.NewString(),
		Title:           valueOr(req.Title, store.DefaultTitle),
		DoctorLanguage:  strings.ToLower(valueOr(req.DoctorLanguage, store.DefaultDoctorLanguage)),
		PatientLanguage: strings.ToLower(valueOr(req.PatientLanguage, store.DefaultPatientLanguage)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := g.store.CreateConversation(r.Context(), conv); err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"doctor_language", conv.DoctorLanguage,
		"patient_language", conv.PatientLanguage)
	g.sendJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleListConversations handles GET /api/conversations, most recent first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListConversations(r.Context())
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		response = append(response, toConversationResponse(c))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := g.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleRenameConversation handles PATCH /api/conversations/{id}. A blank
// title keeps the current one but still touches updated_at.
func (g *Gateway) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RenameConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.store.RenameConversation(r.Context(), id, strings.TrimSpace(req.Title), time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to rename conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := g.store.DeleteConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("conversation deleted", "conversation_id", id)
	g.sendJSON(w, http.StatusOK, DeleteConversationResponse{OK: true, Deleted: id})
}

// handleSearch handles GET /api/conversations/search?q=...&limit=N.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		g.sendJSONError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := g.store.SearchMessages(r.Context(), q, limit)
	if err != nil {
		g.logger.Error("failed to search messages", "query", q, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]SearchResultResponse, 0, len(hits))
	for _, h := range hits {
		response = append(response, SearchResultResponse{
			ConversationID:    h.ConversationID,
			ConversationTitle: h.ConversationTitle,
			MessageID:         h.MessageID,
			Role:              h.Role,
			OriginalText:      h.OriginalText,
			TranslatedText:    h.TranslatedText,
			Timestamp:         formatTimestamp(h.Timestamp),
			ContextBefore:     h.ContextBefore,
			ContextAfter:      h.ContextAfter,
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleSummary handles POST /api/conversations/{id}/summary.
func (g *Gateway) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sum, err := g.summaries.Summarize(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to summarize conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, SummaryResponse{
		ConversationID: sum.ConversationID,
		Summary:        sum.Markdown,
		SummaryHTML:    sum.HTML,
		MessageCount:   sum.MessageCount,
	})
}

// handleAudioUpload handles POST /api/audio/upload with a multipart "file" field.
func (g *Gateway) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	name, err := g.audio.SaveUpload(header.Filename, data)
	if err != nil {
		g.logger.Error("failed to store upload", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, UploadResponse{
		Filename: name,
		URL:      audio.URL(name),
		Size:     len(data),
	})
}

// handleAudio handles GET /api/audio/{filename}.
func (g *Gateway) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	f, err := g.audio.Open(name)
	if errors.Is(err, audio.ErrNotFound) || errors.Is(err, audio.ErrInvalidName) {
		g.sendJSONError(w, http.StatusNotFound, "Audio file not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to open audio", "filename", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", audio.ContentType(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// decodeJSON decodes a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(v)
}

func valueOr(s, fallback string) string {
	if t := strings.TrimSpace(s); t != "" {
		return t
	}
	return fallback
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
