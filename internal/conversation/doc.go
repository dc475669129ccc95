// Package conversation holds the message pipeline, the realtime subscriber
// registry, and clinical summaries.
//
// # Pipeline
//
// Pipeline.Submit turns a raw submission into a stored message:
//
//  1. Resolve (source, target) from the conversation and the role
//  2. Transcribe uploaded audio, if any
//  3. Translate, unless source and target match
//  4. Synthesize speech for the translation
//  5. Persist the message and touch the conversation
//  6. Hand the message to every Publisher
//
// Stages 2-4 return a stageResult. A failing capability never aborts the
// submission: transcription falls back to the typed text or
// TranscriptionUnavailable, translation to TranslationFailedPrefix plus the
// original, synthesis to no audio reference. Only ErrInvalidRole and a
// missing conversation (store.ErrNotFound) are returned to the caller.
//
// Steps 5 and 6 run under a per-conversation commit lock, so publishers see
// messages of one conversation in the order they were stored. The stages
// themselves run concurrently.
//
// # Registry
//
// Registry maps a conversation ID to its live subscribers:
//
//	sub := conversation.NewSubscriber(convID, 64)
//	defer registry.Leave(sub)
//	if err := registry.Join(sub); err != nil { ... }
//	for {
//	    select {
//	    case msg := <-sub.Messages():
//	        // write msg
//	    case <-sub.Done():
//	        return
//	    }
//	}
//
// Broadcast never blocks. A subscriber whose queue is full is marked done and
// skipped; its owner closes the connection and calls Leave. A conversation
// entry is removed with its last subscriber.
//
// # Summaries
//
// Summaries.Summarize asks the Summarizer capability for a clinical summary
// of the conversation's original texts and renders it to HTML with goldmark.
package conversation
