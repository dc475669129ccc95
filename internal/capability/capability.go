// ABOUTME: Interfaces for the external language capabilities used by the message pipeline
// ABOUTME: Transcription, translation, speech synthesis, and summarization plus language/voice tables

package capability

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyTranscript is returned when transcription succeeds but yields no usable text
var ErrEmptyTranscript = errors.New("empty transcript")

// ErrNoAudio is returned when synthesis succeeds but produces no audio
var ErrNoAudio = errors.New("no audio produced")

// Transcriber turns recorded speech into text. languageHint is an ISO code,
// or "auto"/"" to let the provider detect the language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error)
}

// Translator translates text between two language codes. Implementations
// return only the translation, without commentary.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer produces WAV speech for text spoken in targetLang.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, targetLang string) ([]byte, error)
}

// TranscriptLine is one utterance of a conversation handed to a Summarizer
type TranscriptLine struct {
	Role string
	Text string
}

// Summarizer writes a structured clinical summary (markdown) of a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []TranscriptLine) (string, error)
}

// Set bundles the capabilities the gateway wires into the pipeline.
type Set struct {
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	Summarizer  Summarizer
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"zh": "Chinese (Mandarin)",
	"hi": "Hindi",
	"ar": "Arabic",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"it": "Italian",
	"tr": "Turkish",
	"vi": "Vietnamese",
	"th": "Thai",
	"bn": "Bengali",
	"ta": "Tamil",
	"te": "Telugu",
	"ur": "Urdu",
	"sw": "Swahili",
}

// LanguageName returns the English name for a language code, or the code
// itself when it is not in the table.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// Languages returns a copy of the supported code → name table.
func Languages() map[string]string {
	out := make(map[string]string, len(languageNames))
	for k, v := range languageNames {
		out[k] = v
	}
	return out
}

// Voice selects a synthesis voice and the model that speaks it.
type Voice struct {
	Name  string
	Model string
}

// VoiceTable maps language codes to voices. Voice and model are
// independent: an entry may override either or both.
type VoiceTable struct {
	Default   Voice
	Overrides map[string]Voice
}

// DefaultVoices returns the built-in table: Fritz on playai-tts for every
// language, Arabic on its dedicated model.
func DefaultVoices() VoiceTable {
	return VoiceTable{
		Default: Voice{Name: "Fritz-PlayAI", Model: "playai-tts"},
		Overrides: map[string]Voice{
			"ar": {Name: "Ahmad-PlayAI", Model: "playai-tts-arabic"},
		},
	}
}

// For returns the voice for lang, filling unset fields from the default.
func (t VoiceTable) For(lang string) Voice {
	v := t.Default
	if o, ok := t.Overrides[strings.ToLower(lang)]; ok {
		if o.Name != "" {
			v.Name = o.Name
		}
		if o.Model != "" {
			v.Model = o.Model
		}
	}
	return v
}
