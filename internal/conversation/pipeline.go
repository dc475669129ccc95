// ABOUTME: Message pipeline: transcribe, translate, synthesize, persist, then broadcast
// ABOUTME: Capability failures degrade to fallback values; only a missing conversation or bad role fails a submit

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/medibridge/internal/audio"
	"github.com/2389/medibridge/internal/capability"
	"github.com/2389/medibridge/internal/dedupe"
	"github.com/2389/medibridge/internal/store"
)

// TranscriptionUnavailable is stored as the original text when a submission
// has no usable transcript and no typed text.
const TranscriptionUnavailable = "(Voice message — transcription unavailable)"

// TranslationFailedPrefix marks a translated_text that is really the
// untranslated original.
const TranslationFailedPrefix = "[Translation failed] "

// ErrInvalidRole is returned for roles other than doctor and patient
var ErrInvalidRole = errors.New("invalid role")

// errCapabilityUnavailable is used when a capability is not configured
var errCapabilityUnavailable = errors.New("capability not configured")

// Stage outcomes recorded on the stage counter
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeSkipped  = "skipped"
)

// PipelineStore defines what the pipeline needs from storage
type PipelineStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
}

// AudioStore defines what the pipeline needs from audio storage
type AudioStore interface {
	Read(name string) ([]byte, error)
	SaveSynthesized(data []byte) (string, error)
}

// Publisher receives every committed message, in commit order per conversation.
type Publisher interface {
	Publish(ctx context.Context, msg *store.Message) error
}

// PipelineConfig tunes the pipeline. Zero values use defaults.
type PipelineConfig struct {
	// PersistTimeout bounds the store write, which is detached from the
	// caller's cancellation
	PersistTimeout time.Duration

	// MaxSpeechChars truncates text sent to the synthesizer (in runes)
	MaxSpeechChars int

	IdempotencyTTL        time.Duration
	IdempotencyMaxEntries int
}

// SubmitRequest is one raw submission from a participant
type SubmitRequest struct {
	ConversationID string
	Role           string
	Text           string
	AudioURL       string

	// IdempotencyKey, when set, makes retries within the TTL return the
	// originally stored message
	IdempotencyKey string
}

// stageResult is the tagged outcome of one pipeline stage. Degraded results
// still carry a usable Value; Err explains the degradation.
type stageResult[T any] struct {
	Value    T
	Degraded bool
	Err      error
}

func stageOK[T any](v T) stageResult[T] {
	return stageResult[T]{Value: v}
}

func stageDegraded[T any](v T, err error) stageResult[T] {
	return stageResult[T]{Value: v, Degraded: true, Err: err}
}

// Pipeline turns submissions into persisted, broadcast messages.
type Pipeline struct {
	store      PipelineStore
	audio      AudioStore
	caps       capability.Set
	publishers []Publisher
	cfg        PipelineConfig
	logger     *slog.Logger

	commits *keyedMutex
	idem    *dedupe.Cache

	clockMu sync.Mutex
	lastTS  time.Time
	now     func() time.Time

	tracer  trace.Tracer
	metrics metrics
}

// NewPipeline creates a pipeline. Publishers are called in order for every
// committed message; typically the Registry first, then any relay.
func NewPipeline(st PipelineStore, audioStore AudioStore, caps capability.Set, cfg PipelineConfig, logger *slog.Logger, publishers ...Publisher) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.MaxSpeechChars <= 0 {
		cfg.MaxSpeechChars = 4096
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.IdempotencyMaxEntries <= 0 {
		cfg.IdempotencyMaxEntries = 10000
	}

	return &Pipeline{
		store:      st,
		audio:      audioStore,
		caps:       caps,
		publishers: publishers,
		cfg:        cfg,
		logger:     logger.With("component", "pipeline"),
		commits:    newKeyedMutex(),
		idem:       dedupe.New(cfg.IdempotencyTTL, cfg.IdempotencyMaxEntries),
		now:        time.Now,
		tracer:     otel.Tracer(instrumentationName),
		metrics:    newMetrics(),
	}
}

// Close releases background resources.
func (p *Pipeline) Close() {
	p.idem.Close()
}

// Submit runs a submission through every stage and returns the stored message.
//
// Errors: ErrInvalidRole, a wrapped store.ErrNotFound when the conversation
// does not exist, or a wrapped storage error. Capability failures never
// surface here; they show up as fallback text or a missing audio reference.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*store.Message, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.submit",
		trace.WithAttributes(
			attribute.String("conversation_id", req.ConversationID),
			attribute.String("role", req.Role),
			attribute.Bool("has_audio", req.AudioURL != ""),
		))
	defer span.End()
	defer func() {
		p.metrics.submitDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("role", req.Role)))
	}()

	if !store.ValidRole(req.Role) {
		return nil, spanErr(span, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role))
	}

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = req.ConversationID + ":" + req.IdempotencyKey
		if msg := p.replay(ctx, idemKey); msg != nil {
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			return msg, nil
		}
	}

	conv, err := p.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("loading conversation %s: %w", req.ConversationID, err))
	}

	source, target := conv.Languages(req.Role)

	// Stages run without any per-conversation lock. They ignore caller
	// cancellation, so a dropped client can't leave a degraded message
	// behind its idempotency key; each capability bounds its own call.
	stageCtx := context.WithoutCancel(ctx)
	text := p.transcribeStage(stageCtx, conv.ID, req, source)
	translated := p.translateStage(stageCtx, conv.ID, text.Value, source, target)
	speech := p.synthesizeStage(stageCtx, conv.ID, translated.Value, target)

	msg := &store.Message{
		ID:                 uuid.NewString(),
		ConversationID:     conv.ID,
		Role:               req.Role,
		OriginalText:       text.Value,
		TranslatedText:     translated.Value,
		OriginalLanguage:   source,
		TranslatedLanguage: target,
		TranslatedAudioURL: speech.Value,
	}
	if req.AudioURL != "" {
		ref := req.AudioURL
		msg.AudioURL = &ref
	}

	if err := p.commit(ctx, msg); err != nil {
		return nil, spanErr(span, err)
	}

	if idemKey != "" {
		p.idem.Record(idemKey, msg.ID)
	}

	span.SetAttributes(attribute.String("message_id", msg.ID))
	p.logger.Info("message submitted",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"role", msg.Role,
		"source", source,
		"target", target,
		"degraded", text.Degraded || translated.Degraded || speech.Degraded,
		"duration", time.Since(start))

	result := *msg
	return &result, nil
}

// commit persists msg and hands it to the publishers while holding the
// conversation's commit lock, so publish order equals commit order.
func (p *Pipeline) commit(ctx context.Context, msg *store.Message) error {
	unlock := p.commits.Lock(msg.ConversationID)
	defer unlock()

	msg.Timestamp = p.nextTimestamp()

	// Record first, then act. The write outlives a cancelled caller.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	defer cancel()

	if err := p.store.CreateMessage(persistCtx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("saving message to conversation %s: %w", msg.ConversationID, err)
		}
		return fmt.Errorf("saving message: %w", err)
	}

	for _, pub := range p.publishers {
		if err := pub.Publish(persistCtx, msg); err != nil {
			p.logger.Warn("publish failed",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID,
				"error", err)
		}
	}
	return nil
}

// nextTimestamp returns a UTC time strictly after the previous one.
func (p *Pipeline) nextTimestamp() time.Time {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()

	ts := p.now().UTC()
	if !ts.After(p.lastTS) {
		ts = p.lastTS.Add(time.Microsecond)
	}
	p.lastTS = ts
	return ts
}

// replay returns the message previously stored under key, if any.
func (p *Pipeline) replay(ctx context.Context, key string) *store.Message {
	id, found := p.idem.Lookup(key)
	if !found {
		return nil
	}
	msg, err := p.store.GetMessage(ctx, id)
	if err != nil {
		// Conversation deleted since; run the submission again
		p.idem.Forget(key)
		return nil
	}
	p.logger.Debug("idempotent replay", "message_id", id)
	return msg
}

// transcribeStage resolves the effective original text.
func (p *Pipeline) transcribeStage(ctx context.Context, convID string, req SubmitRequest, source string) stageResult[string] {
	fallback := fallbackText(req.Text)
	if req.AudioURL == "" {
		p.recordStage(ctx, "transcribe", outcomeSkipped)
		return stageOK(fallback)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.transcribe")
	defer span.End()

	result := func() stageResult[string] {
		if p.caps.Transcriber == nil || p.audio == nil {
			return stageDegraded(fallback, errCapabilityUnavailable)
		}
		name := audio.NameFromURL(req.AudioURL)
		data, err := p.audio.Read(name)
		if err != nil {
			return stageDegraded(fallback, fmt.Errorf("loading audio %s: %w", name, err))
		}
		transcript, err := p.caps.Transcriber.Transcribe(ctx, data, name, source)
		if err != nil {
			return stageDegraded(fallback, err)
		}
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			return stageDegraded(fallback, capability.ErrEmptyTranscript)
		}
		return stageOK(transcript)
	}()

	p.finishStage(ctx, span, "transcribe", convID, result.Degraded, result.Err)
	return result
}

// translateStage translates text, or passes it through when the languages match.
func (p *Pipeline) translateStage(ctx context.Context, convID, text, source, target string) stageResult[string] {
	if source == target {
		p.recordStage(ctx, "translate", outcomeSkipped)
		return stageOK(text)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.translate")
	defer span.End()

	failed := TranslationFailedPrefix + text
	result := func() stageResult[string] {
		if p.caps.Translator == nil {
			return stageDegraded(failed, errCapabilityUnavailable)
		}
		out, err := p.caps.Translator.Translate(ctx, text, source, target)
		if err != nil {
			return stageDegraded(failed, err)
		}
		out = cleanTranslation(out, source, target)
		if strings.TrimSpace(out) == "" {
			return stageDegraded(failed, errors.New("empty translation"))
		}
		return stageOK(out)
	}()

	p.finishStage(ctx, span, "translate", convID, result.Degraded, result.Err)
	return result
}

// synthesizeStage produces speech for the translation and returns its reference.
func (p *Pipeline) synthesizeStage(ctx context.Context, convID, text, target string) stageResult[*string] {
	if strings.TrimSpace(text) == "" {
		p.recordStage(ctx, "synthesize", outcomeSkipped)
		return stageOK[*string](nil)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.synthesize")
	defer span.End()

	result := func() stageResult[*string] {
		if p.caps.Synthesizer == nil || p.audio == nil {
			return stageDegraded[*string](nil, errCapabilityUnavailable)
		}
		data, err := p.caps.Synthesizer.Synthesize(ctx, truncateRunes(text, p.cfg.MaxSpeechChars), target)
		if err != nil {
			return stageDegraded[*string](nil, err)
		}
		if len(data) == 0 {
			return stageDegraded[*string](nil, capability.ErrNoAudio)
		}
		name, err := p.audio.SaveSynthesized(data)
		if err != nil {
			return stageDegraded[*string](nil, fmt.Errorf("saving synthesized audio: %w", err))
		}
		ref := audio.URL(name)
		return stageOK(&ref)
	}()

	p.finishStage(ctx, span, "synthesize", convID, result.Degraded, result.Err)
	return result
}

func (p *Pipeline) finishStage(ctx context.Context, span trace.Span, stage, convID string, isDegraded bool, err error) {
	if !isDegraded {
		p.recordStage(ctx, stage, outcomeOK)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "degraded")
	p.recordStage(ctx, stage, outcomeDegraded)
	p.logger.Warn("stage degraded",
		"stage", stage,
		"conversation_id", convID,
		"error", err)
}

func (p *Pipeline) recordStage(ctx context.Context, stage, outcome string) {
	p.metrics.stages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// fallbackText is the trimmed typed text, or the sentinel when there is none.
func fallbackText(text string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return TranscriptionUnavailable
}

// cleanTranslation removes labels and wrapping quotes models sometimes add.
func cleanTranslation(out, source, target string) string {
	sourceName := capability.LanguageName(source)
	targetName := capability.LanguageName(target)

	result := strings.TrimSpace(out)
	prefixes := []string{
		"Translation:",
		"Translated text:",
		"Here is the translation:",
		targetName + ":",
		sourceName + " to " + targetName + ":",
		"Here's the translation:",
		"Translated:",
	}
	for _, prefix := range prefixes {
		if len(result) >= len(prefix) && strings.EqualFold(result[:len(prefix)], prefix) {
			result = strings.TrimSpace(result[len(prefix):])
		}
	}

	return stripQuotes(result)
}

// stripQuotes removes one layer of quotes present on both ends.
func stripQuotes(s string) string {
	if utf8.RuneCountInString(s) < 2 {
		return s
	}
	first, firstSize := utf8.DecodeRuneInString(s)
	last, lastSize := utf8.DecodeLastRuneInString(s)
	opening := first == '"' || first == '\'' || first == '“'
	closing := last == '"' || last == '\'' || last == '”'
	if opening && closing {
		return s[firstSize : len(s)-lastSize]
	}
	return s
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
