// ABOUTME: Scriptable in-memory capabilities for tests and offline runs
// ABOUTME: Records every call and lets tests inject results, errors, or delays

package capability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TranslateCall records one Translate invocation
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// SynthesizeCall records one Synthesize invocation
type SynthesizeCall struct {
	Text       string
	TargetLang string
}

// Mock implements every capability. With no hooks set it behaves like a
// working offline provider: transcripts are empty, translations are tagged
// with the target language, and speech is a short silent WAV.
type Mock struct {
	mu sync.Mutex

	// Hooks override the default behaviour when set
	TranscribeFunc func(ctx context.Context, audio []byte, filename, languageHint string) (string, error)
	TranslateFunc  func(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	SynthesizeFunc func(ctx context.Context, text, targetLang string) ([]byte, error)
	SummarizeFunc  func(ctx context.Context, transcript []TranscriptLine) (string, error)

	// Delay is applied before every call, honouring ctx cancellation
	Delay time.Duration

	transcribeCalls int
	translateCalls  []TranslateCall
	synthesizeCalls []SynthesizeCall
	summarizeCalls  int
}

// NewMock returns a Mock with default behaviour.
func NewMock() *Mock {
	return &Mock{}
}

// Transcribe implements Transcriber.
func (m *Mock) Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error) {
	m.mu.Lock()
	m.transcribeCalls++
	fn := m.TranscribeFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, audio, filename, languageHint)
	}
	return "", ErrEmptyTranscript
}

// Translate implements Translator.
func (m *Mock) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	m.mu.Lock()
	m.translateCalls = append(m.translateCalls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	fn := m.TranslateFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, text, sourceLang, targetLang)
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}

// Synthesize implements Synthesizer.
func (m *Mock) Synthesize(ctx context.Context, text, targetLang string) ([]byte, error) {
	m.mu.Lock()
	m.synthesizeCalls = append(m.synthesizeCalls, SynthesizeCall{Text: text, TargetLang: targetLang})
	fn := m.SynthesizeFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, text, targetLang)
	}
	// 100ms of silence at 8kHz
	return SilentWAV(8000, 800)
}

// Summarize implements Summarizer.
func (m *Mock) Summarize(ctx context.Context, transcript []TranscriptLine) (string, error) {
	m.mu.Lock()
	m.summarizeCalls++
	fn := m.SummarizeFunc
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, transcript)
	}
	return fmt.Sprintf("## Key Notes\n- %d utterances recorded", len(transcript)), nil
}

// TranscribeCalls returns how many times Transcribe was called.
func (m *Mock) TranscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcribeCalls
}

// TranslateCalls returns a copy of the recorded Translate calls.
func (m *Mock) TranslateCalls() []TranslateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranslateCall(nil), m.translateCalls...)
}

// SynthesizeCalls returns a copy of the recorded Synthesize calls.
func (m *Mock) SynthesizeCalls() []SynthesizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthesizeCall(nil), m.synthesizeCalls...)
}

// SummarizeCalls returns how many times Summarize was called.
func (m *Mock) SummarizeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarizeCalls
}

// Set returns the mock wired into every slot of a capability Set.
func (m *Mock) Set() Set {
	return Set{Transcriber: m, Translator: m, Synthesizer: m, Summarizer: m}
}

func (m *Mock) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(m.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Transcriber = (*Mock)(nil)
	_ Translator  = (*Mock)(nil)
	_ Synthesizer = (*Mock)(nil)
	_ Summarizer  = (*Mock)(nil)
)
