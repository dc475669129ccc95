// ABOUTME: Prompt text sent to the chat model for translation and clinical summaries
// ABOUTME: Kept apart from the HTTP client so tests and other providers can reuse it

package capability

import (
	"fmt"
	"strings"
)

const summarySystemPrompt = "You are a medical documentation specialist who creates structured clinical summaries from doctor-patient conversations."

// TranslationPrompt is the system prompt asking for a bare translation.
func TranslationPrompt(sourceLang, targetLang string) string {
	source := LanguageName(sourceLang)
	target := LanguageName(targetLang)
	return fmt.Sprintf(
		"Translate the user's message from %s to %s. Reply with ONLY the %s translation. "+
			"No quotes, no labels, no commentary, no original text repeated.",
		source, target, target,
	)
}

// FormatTranscript renders lines as "Doctor: ..." / "Patient: ..." text.
func FormatTranscript(lines []TranscriptLine) string {
	var b strings.Builder
	for _, l := range lines {
		label := "Patient"
		if l.Role == "doctor" {
			label = "Doctor"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// SummaryPrompt is the user prompt asking for a sectioned clinical summary.
func SummaryPrompt(lines []TranscriptLine) string {
	return `You are a medical documentation specialist. Analyze the following doctor-patient conversation and generate a structured clinical summary.

Conversation:
` + FormatTranscript(lines) + `
Generate a summary with the following sections (only include sections that have relevant information):

## Chief Complaint
Brief description of the patient's primary concern.

## Symptoms Reported
- List all symptoms mentioned by the patient

## Diagnosis / Assessment
- Any diagnoses mentioned or suggested by the doctor

## Medications & Prescriptions
- Any medications discussed or prescribed

## Treatment Plan
- Recommended treatments or procedures

## Follow-Up Actions
- Any scheduled follow-ups, tests, or referrals

## Key Notes
- Any other medically important observations

Format the summary in clear markdown. Be concise but thorough.`
}
