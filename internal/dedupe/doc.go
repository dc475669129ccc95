// Package dedupe provides an idempotency cache: a bounded, time-limited map
// from a client-supplied key to the ID of the result it produced, so a
// retried request can be answered without repeating its side effects.
package dedupe
