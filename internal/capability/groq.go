// ABOUTME: HTTP client for OpenAI-compatible speech and chat APIs (Groq by default)
// ABOUTME: Implements Transcriber, Translator, Synthesizer, and Summarizer with per-call timeouts

package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/2389/medibridge/internal/capability"

// maxErrorBody bounds how much of a failed response is kept for the error message
const maxErrorBody = 512

// GroqConfig configures a GroqClient. Zero values fall back to defaults.
type GroqConfig struct {
	BaseURL            string
	APIKey             string
	TranscriptionModel string
	ChatModel          string
	Voices             VoiceTable

	TranscriptionTimeout time.Duration
	TranslationTimeout   time.Duration
	SpeechTimeout        time.Duration
	SummaryTimeout       time.Duration

	HTTPClient *http.Client
}

// GroqClient calls the /audio/transcriptions, /chat/completions, and
// /audio/speech endpoints of an OpenAI-compatible API.
type GroqClient struct {
	cfg    GroqConfig
	http   *http.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// NewGroqClient creates a client, applying defaults to unset fields.
func NewGroqClient(cfg GroqConfig, logger *slog.Logger) *GroqClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-large-v3-turbo"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "llama-3.3-70b-versatile"
	}
	if cfg.Voices.Default.Name == "" || cfg.Voices.Default.Model == "" {
		def := DefaultVoices()
		if cfg.Voices.Default.Name == "" {
			cfg.Voices.Default.Name = def.Default.Name
		}
		if cfg.Voices.Default.Model == "" {
			cfg.Voices.Default.Model = def.Default.Model
		}
	}
	if cfg.TranscriptionTimeout == 0 {
		cfg.TranscriptionTimeout = 60 * time.Second
	}
	if cfg.TranslationTimeout == 0 {
		cfg.TranslationTimeout = 30 * time.Second
	}
	if cfg.SpeechTimeout == 0 {
		cfg.SpeechTimeout = 60 * time.Second
	}
	if cfg.SummaryTimeout == 0 {
		cfg.SummaryTimeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &GroqClient{
		cfg:    cfg,
		http:   httpClient,
		tracer: otel.Tracer(tracerName),
		logger: logger.With("component", "capability.groq"),
	}
}

// Transcribe uploads audio as multipart form data and returns the plain-text
// transcript. A blank transcript is reported as ErrEmptyTranscript.
func (c *GroqClient) Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "capability.transcribe",
		trace.WithAttributes(
			attribute.String("model", c.cfg.TranscriptionModel),
			attribute.String("language_hint", languageHint),
			attribute.Int("audio_bytes", len(audio)),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscriptionTimeout)
	defer cancel()

	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", recordErr(span, fmt.Errorf("creating form file: %w", err))
	}
	if _, err := part.Write(audio); err != nil {
		return "", recordErr(span, fmt.Errorf("writing form file: %w", err))
	}
	fields := map[string]string{
		"model":           c.cfg.TranscriptionModel,
		"response_format": "text",
	}
	if languageHint != "" && languageHint != "auto" {
		fields["language"] = languageHint
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", recordErr(span, fmt.Errorf("writing form field %s: %w", k, err))
		}
	}
	if err := mw.Close(); err != nil {
		return "", recordErr(span, fmt.Errorf("closing multipart body: %w", err))
	}

	respBody, err := c.do(ctx, "/audio/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		return "", recordErr(span, fmt.Errorf("transcription request: %w", err))
	}

	text := strings.TrimSpace(string(respBody))
	if text == "" {
		return "", recordErr(span, ErrEmptyTranscript)
	}
	return text, nil
}

// Translate asks the chat model for a bare translation of text.
func (c *GroqClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "capability.translate",
		trace.WithAttributes(
			attribute.String("model", c.cfg.ChatModel),
			attribute.String("source_lang", sourceLang),
			attribute.String("target_lang", targetLang),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranslationTimeout)
	defer cancel()

	out, err := c.chat(ctx, chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: TranslationPrompt(sourceLang, targetLang)},
			{Role: "user", Content: text},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", recordErr(span, fmt.Errorf("translation request: %w", err))
	}
	return out, nil
}

// Summarize asks the chat model for a sectioned clinical summary.
func (c *GroqClient) Summarize(ctx context.Context, transcript []TranscriptLine) (string, error) {
	ctx, span := c.tracer.Start(ctx, "capability.summarize",
		trace.WithAttributes(
			attribute.String("model", c.cfg.ChatModel),
			attribute.Int("lines", len(transcript)),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SummaryTimeout)
	defer cancel()

	out, err := c.chat(ctx, chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: SummaryPrompt(transcript)},
		},
		Temperature: 0.4,
		MaxTokens:   2048,
	})
	if err != nil {
		return "", recordErr(span, fmt.Errorf("summary request: %w", err))
	}
	return out, nil
}

// Synthesize requests WAV speech for text using the voice table entry for
// targetLang. The response must be a valid WAV container.
func (c *GroqClient) Synthesize(ctx context.Context, text, targetLang string) ([]byte, error) {
	voice := c.cfg.Voices.For(targetLang)

	ctx, span := c.tracer.Start(ctx, "capability.synthesize",
		trace.WithAttributes(
			attribute.String("model", voice.Model),
			attribute.String("voice", voice.Name),
			attribute.String("target_lang", targetLang),
		))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, recordErr(span, ErrNoAudio)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SpeechTimeout)
	defer cancel()

	payload, err := json.Marshal(speechRequest{
		Model:          voice.Model,
		Input:          text,
		Voice:          voice.Name,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("encoding speech request: %w", err))
	}

	data, err := c.do(ctx, "/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("speech request: %w", err))
	}
	if err := ValidateWAV(data); err != nil {
		return nil, recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("audio_bytes", len(data)))
	return data, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (c *GroqClient) chat(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	data, err := c.do(ctx, "/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// do POSTs body to path and returns the response body for 2xx responses.
func (c *GroqClient) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("capability call",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}
	return data, nil
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Ensure GroqClient implements every capability
var (
	_ Transcriber = (*GroqClient)(nil)
	_ Translator  = (*GroqClient)(nil)
	_ Synthesizer = (*GroqClient)(nil)
	_ Summarizer  = (*GroqClient)(nil)
)
