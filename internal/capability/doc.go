// Package capability defines the external language services the message
// pipeline depends on and their implementations.
//
// # Interfaces
//
//   - Transcriber: speech to text, with an optional language hint
//   - Translator: text between two language codes
//   - Synthesizer: text to WAV speech, voice chosen by language
//   - Summarizer: clinical summary of a doctor/patient transcript
//
// Every call carries its own timeout. Implementations report "no usable
// result" with ErrEmptyTranscript or ErrNoAudio rather than empty values, so
// callers can tell success from degradation with errors.Is.
//
// # Implementations
//
// GroqClient talks to an OpenAI-compatible API (Groq by default).
// ExecTranscriber runs a local recognizer command. Mock is scriptable and is
// also the offline provider.
//
// # Voices
//
// VoiceTable maps a language code to a voice name and a model. The two are
// independent: Arabic uses both a different voice and a different model.
package capability
