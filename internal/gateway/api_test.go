// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Exercises every route through the real handler with the mock capability provider

package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/medibridge/internal/conversation"
	"github.com/2389/medibridge/internal/store"
)

func doRequest(t *testing.T, srv *httptest.Server, method, path, body string, headers ...string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeBody[map[string]string](t, resp)["error"]
}

func createConversation(t *testing.T, srv *httptest.Server, body string) ConversationResponse {
	t.Helper()
	resp := doRequest(t, srv, http.MethodPost, "/api/conversations", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[ConversationResponse](t, resp)
}

func submitMessage(t *testing.T, srv *httptest.Server, convID, role, text, audioURL string) MessageResponse {
	t.Helper()
	req := map[string]any{"conversation_id": convID, "role": role, "text": text}
	if audioURL != "" {
		req["audio_url"] = audioURL
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp := doRequest(t, srv, http.MethodPost, "/api/messages", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[MessageResponse](t, resp)
}

func TestRoot(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decodeBody[RootResponse](t, resp)
	assert.Equal(t, "MediBridge API", root.Name)
	assert.Equal(t, "test", root.Version)
	assert.Equal(t, "running", root.Status)

	resp = doRequest(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndReady(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decodeBody[map[string]string](t, resp)["status"])

	resp = doRequest(t, srv, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", decodeBody[map[string]any](t, resp)["status"])
}

func TestCreateConversation_Defaults(t *testing.T) {
	_, srv := newTestGateway(t)

	conv := createConversation(t, srv, "")
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, store.DefaultTitle, conv.Title)
	assert.Equal(t, "en", conv.DoctorLanguage)
	assert.Equal(t, "es", conv.PatientLanguage)
	assert.Zero(t, conv.MessageCount)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestCreateAndGetConversation(t *testing.T) {
	_, srv := newTestGateway(t)

	created := createConversation(t, srv, `{"title":"Cardiology","doctor_language":"EN","patient_language":"hi"}`)
	assert.Equal(t, "Cardiology", created.Title)
	assert.Equal(t, "en", created.DoctorLanguage)
	assert.Equal(t, "hi", created.PatientLanguage)

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[ConversationResponse](t, resp)
	assert.Equal(t, created, got)
}

func TestCreateConversation_InvalidJSON(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/conversations", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", errorMessage(t, resp))
}

func TestGetConversation_NotFound(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Conversation not found", errorMessage(t, resp))
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	_, srv := newTestGateway(t)

	older := createConversation(t, srv, `{"title":"older"}`)
	newer := createConversation(t, srv, `{"title":"newer"}`)

	// A message moves the older conversation to the top
	submitMessage(t, srv, older.ID, "doctor", "hello", "")

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]ConversationResponse](t, resp)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, newer.ID, list[1].ID)
}

func TestListConversations_Empty(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestRenameConversation(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, `{"title":"Intake"}`)
	submitMessage(t, srv, conv.ID, "patient", "hola", "")

	resp := doRequest(t, srv, http.MethodPatch, "/api/conversations/"+conv.ID, `{"title":"  Follow-up  "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decodeBody[ConversationResponse](t, resp)
	assert.Equal(t, "Follow-up", renamed.Title)
	assert.Equal(t, 1, renamed.MessageCount)

	resp = doRequest(t, srv, http.MethodPatch, "/api/conversations/"+conv.ID, `{"title":"   "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Follow-up", decodeBody[ConversationResponse](t, resp).Title)

	resp = doRequest(t, srv, http.MethodPatch, "/api/conversations/missing", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteConversation(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")
	submitMessage(t, srv, conv.ID, "doctor", "hello", "")

	resp := doRequest(t, srv, http.MethodDelete, "/api/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DeleteConversationResponse{OK: true, Deleted: conv.ID}, decodeBody[DeleteConversationResponse](t, resp))

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]MessageResponse](t, resp))

	resp = doRequest(t, srv, http.MethodDelete, "/api/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitMessage(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, `{"doctor_language":"en","patient_language":"hi"}`)

	msg := submitMessage(t, srv, conv.ID, "doctor", "How are you?", "")
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, "doctor", msg.Role)
	assert.Equal(t, "How are you?", msg.OriginalText)
	assert.Equal(t, "[hi] How are you?", msg.TranslatedText)
	assert.Equal(t, "en", msg.OriginalLanguage)
	assert.Equal(t, "hi", msg.TranslatedLanguage)
	assert.Nil(t, msg.AudioURL)
	require.NotNil(t, msg.TranslatedAudioURL)
	assert.True(t, strings.HasPrefix(*msg.TranslatedAudioURL, "/api/audio/tts_"))
	assert.NotEmpty(t, msg.Timestamp)

	// Synthesized audio is served back as WAV
	resp := doRequest(t, srv, http.MethodGet, *msg.TranslatedAudioURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
}

func TestSubmitMessage_Errors(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"invalid json", "{", http.StatusBadRequest, "invalid JSON body"},
		{"missing conversation", `{"role":"doctor","text":"hi"}`, http.StatusNotFound, "Conversation not found"},
		{"blank conversation", `{"conversation_id":"  ","role":"doctor","text":"hi"}`, http.StatusNotFound, "Conversation not found"},
		{"bad role", `{"conversation_id":"` + conv.ID + `","role":"nurse","text":"hi"}`, http.StatusBadRequest, "role must be doctor or patient"},
		{"unknown conversation", `{"conversation_id":"missing","role":"doctor","text":"hi"}`, http.StatusNotFound, "Conversation not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, srv, http.MethodPost, "/api/messages", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, errorMessage(t, resp))
		})
	}

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	assert.Empty(t, decodeBody[[]MessageResponse](t, resp))
}

func TestSubmitMessage_EmptyUsesSentinel(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")

	msg := submitMessage(t, srv, conv.ID, "patient", "   ", "")
	assert.Equal(t, conversation.TranscriptionUnavailable, msg.OriginalText)
}

func TestSubmitMessage_IdempotencyKey(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")
	body := `{"conversation_id":"` + conv.ID + `","role":"doctor","text":"hello"}`

	first := doRequest(t, srv, http.MethodPost, "/api/messages", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, first.StatusCode)
	second := doRequest(t, srv, http.MethodPost, "/api/messages", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, second.StatusCode)

	assert.Equal(t, decodeBody[MessageResponse](t, first).ID, decodeBody[MessageResponse](t, second).ID)

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/"+conv.ID, "")
	assert.Equal(t, 1, decodeBody[ConversationResponse](t, resp).MessageCount)
}

func TestListMessages_Ordered(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")

	for _, text := range []string{"one", "two", "three"} {
		submitMessage(t, srv, conv.ID, "doctor", text, "")
	}

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[[]MessageResponse](t, resp)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].OriginalText)
	assert.Equal(t, "two", msgs[1].OriginalText)
	assert.Equal(t, "three", msgs[2].OriginalText)
}

func TestSearch(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, `{"title":"Clinic"}`)

	submitMessage(t, srv, conv.ID, "doctor", "Where does it hurt?", "")
	submitMessage(t, srv, conv.ID, "patient", "My chest HURTS", "")
	submitMessage(t, srv, conv.ID, "doctor", "Since when?", "")

	resp := doRequest(t, srv, http.MethodGet, "/api/conversations/search?q=chest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hits := decodeBody[[]SearchResultResponse](t, resp)
	require.Len(t, hits, 1)
	assert.Equal(t, "Clinic", hits[0].ConversationTitle)
	assert.Equal(t, "My chest HURTS", hits[0].OriginalText)
	assert.Equal(t, "Where does it hurt?", hits[0].ContextBefore)
	assert.Equal(t, "Since when?", hits[0].ContextAfter)

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations/search?q=hurt&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hits = decodeBody[[]SearchResultResponse](t, resp)
	require.Len(t, hits, 1)
	assert.Equal(t, "My chest HURTS", hits[0].OriginalText, "newest match first")

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations/search?q=%20", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations/search?q=x&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")

	resp := doRequest(t, srv, http.MethodPost, "/api/conversations/"+conv.ID+"/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decodeBody[SummaryResponse](t, resp)
	assert.Equal(t, conversation.SummaryEmpty, sum.Summary)
	assert.Zero(t, sum.MessageCount)

	submitMessage(t, srv, conv.ID, "doctor", "Any allergies?", "")
	submitMessage(t, srv, conv.ID, "patient", "Penicillin", "")

	resp = doRequest(t, srv, http.MethodPost, "/api/conversations/"+conv.ID+"/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum = decodeBody[SummaryResponse](t, resp)
	assert.Equal(t, conv.ID, sum.ConversationID)
	assert.Equal(t, 2, sum.MessageCount)
	assert.Contains(t, sum.Summary, "Key Notes")
	assert.Contains(t, sum.SummaryHTML, "<h2>Key Notes</h2>")

	resp = doRequest(t, srv, http.MethodPost, "/api/conversations/missing/summary", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func uploadAudio(t *testing.T, srv *httptest.Server, filename string, data []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/audio/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAudioUploadAndServe(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := uploadAudio(t, srv, "voice.ogg", []byte("OggS fake"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decodeBody[UploadResponse](t, resp)
	assert.True(t, strings.HasSuffix(up.Filename, ".ogg"))
	assert.Equal(t, "/api/audio/"+up.Filename, up.URL)
	assert.Equal(t, 9, up.Size)

	resp = doRequest(t, srv, http.MethodGet, up.URL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/ogg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OggS fake", string(data))

	resp = doRequest(t, srv, http.MethodGet, "/api/audio/missing.webm", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAudioUpload_MissingFile(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/audio/upload", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitMessage_WithUploadedAudio(t *testing.T) {
	_, srv := newTestGateway(t)
	conv := createConversation(t, srv, "")

	resp := uploadAudio(t, srv, "clip.webm", []byte("webm"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decodeBody[UploadResponse](t, resp)

	// The mock transcriber hears nothing, so the typed text stands
	msg := submitMessage(t, srv, conv.ID, "patient", "typed fallback", up.URL)
	assert.Equal(t, "typed fallback", msg.OriginalText)
	require.NotNil(t, msg.AudioURL)
	assert.Equal(t, up.URL, *msg.AudioURL)
}

func TestCORS(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORS.AllowedOrigins = []string{"http://localhost:5173", "https://*.example.com"}
	_, srv := newTestGatewayWithConfig(t, cfg)

	resp := doRequest(t, srv, http.MethodOptions, "/api/conversations", "",
		"Origin", "https://app.example.com",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations", "", "Origin", "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = doRequest(t, srv, http.MethodGet, "/api/conversations", "", "Origin", "https://evil.test")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.MetricsEnabled = true
	_, srv := newTestGatewayWithConfig(t, cfg)

	conv := createConversation(t, srv, "")
	submitMessage(t, srv, conv.ID, "doctor", "hello", "")

	resp := doRequest(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
