// ABOUTME: Builds the capability Set selected by configuration
// ABOUTME: groq uses the HTTP API; exec adds a local transcriber; mock runs offline

package capability

import (
	"fmt"
	"log/slog"

	"github.com/2389/medibridge/internal/config"
)

// NewSet builds the capabilities for cfg.Provider.
//
// With provider exec, transcription runs locally and the other capabilities
// use the HTTP API when an API key is configured, the mock otherwise.
func NewSet(cfg config.CapabilitiesConfig, logger *slog.Logger) (Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	voices := VoiceTable{
		Default:   Voice{Name: cfg.DefaultVoice, Model: cfg.SpeechModel},
		Overrides: make(map[string]Voice, len(cfg.Voices)),
	}
	for lang, v := range cfg.Voices {
		voices.Overrides[lang] = Voice{Name: v.Voice, Model: v.Model}
	}

	newGroq := func() *GroqClient {
		return NewGroqClient(GroqConfig{
			BaseURL:              cfg.BaseURL,
			APIKey:               cfg.APIKey,
			TranscriptionModel:   cfg.TranscriptionModel,
			ChatModel:            cfg.TranslationModel,
			Voices:               voices,
			TranscriptionTimeout: cfg.TranscriptionTimeout,
			TranslationTimeout:   cfg.TranslationTimeout,
			SpeechTimeout:        cfg.SpeechTimeout,
		}, logger)
	}

	switch cfg.Provider {
	case config.ProviderGroq:
		return newGroq().Set(), nil

	case config.ProviderExec:
		stt, err := NewExecTranscriber(cfg.ExecCommand, cfg.TranscriptionTimeout)
		if err != nil {
			return Set{}, err
		}
		var set Set
		if cfg.APIKey != "" {
			set = newGroq().Set()
		} else {
			logger.Warn("exec provider without api_key: translation and speech use the offline mock")
			set = NewMock().Set()
		}
		set.Transcriber = stt
		return set, nil

	case config.ProviderMock, "":
		return NewMock().Set(), nil

	default:
		return Set{}, fmt.Errorf("unknown capability provider %q", cfg.Provider)
	}
}

// Set returns the client wired into every slot of a capability Set.
func (c *GroqClient) Set() Set {
	return Set{Transcriber: c, Translator: c, Synthesizer: c, Summarizer: c}
}
