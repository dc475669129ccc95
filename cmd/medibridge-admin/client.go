// ABOUTME: Thin HTTP client for the medibridge API used by the admin CLI
// ABOUTME: Decodes JSON responses into the gateway's response types

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/2389/medibridge/internal/gateway"
)

// apiError is the {"error": "..."} body the server returns on failure.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in any, headers map[string]string, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, headers, out)
}

func (c *apiClient) Root(ctx context.Context) (gateway.RootResponse, error) {
	var out gateway.RootResponse
	err := c.doJSON(ctx, http.MethodGet, "/", nil, nil, &out)
	return out, err
}

func (c *apiClient) ListConversations(ctx context.Context) ([]gateway.ConversationResponse, error) {
	var out []gateway.ConversationResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, nil, &out)
	return out, err
}

func (c *apiClient) CreateConversation(ctx context.Context, req gateway.CreateConversationRequest) (gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations", req, nil, &out)
	return out, err
}

func (c *apiClient) GetConversation(ctx context.Context, id string) (gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *apiClient) RenameConversation(ctx context.Context, id, title string) (gateway.ConversationResponse, error) {
	var out gateway.ConversationResponse
	err := c.doJSON(ctx, http.MethodPatch, "/api/conversations/"+url.PathEscape(id),
		gateway.RenameConversationRequest{Title: title}, nil, &out)
	return out, err
}

func (c *apiClient) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil, nil)
}

func (c *apiClient) ListMessages(ctx context.Context, id string) ([]gateway.MessageResponse, error) {
	var out []gateway.MessageResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id)+"/messages", nil, nil, &out)
	return out, err
}

func (c *apiClient) SubmitMessage(ctx context.Context, req gateway.SubmitMessageRequest, idempotencyKey string) (gateway.MessageResponse, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var out gateway.MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/messages", req, headers, &out)
	return out, err
}

func (c *apiClient) Search(ctx context.Context, query string, limit int) ([]gateway.SearchResultResponse, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []gateway.SearchResultResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/search?"+q.Encode(), nil, nil, &out)
	return out, err
}

func (c *apiClient) Summary(ctx context.Context, id string) (gateway.SummaryResponse, error) {
	var out gateway.SummaryResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(id)+"/summary", nil, nil, &out)
	return out, err
}

// UploadAudio sends a local recording to /api/audio/upload.
func (c *apiClient) UploadAudio(ctx context.Context, path string) (gateway.UploadResponse, error) {
	var out gateway.UploadResponse

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("reading audio file: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return out, fmt.Errorf("creating form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return out, fmt.Errorf("writing form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return out, fmt.Errorf("closing form: %w", err)
	}

	err = c.do(ctx, http.MethodPost, "/api/audio/upload", &buf, mw.FormDataContentType(), nil, &out)
	return out, err
}

// wsURL converts the API base URL into the realtime endpoint for a conversation.
func (c *apiClient) wsURL(convID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/" + url.PathEscape(convID)
	return u.String(), nil
}
