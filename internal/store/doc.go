// Package store provides persistent storage for medibridge using SQLite.
//
// # Architecture
//
// A single Store interface covers conversations, their messages, and search.
// SQLiteStore is the production implementation; MockStore is an in-memory
// stand-in for tests and offline runs.
//
// # Data Models
//
//   - Conversation: a doctor/patient exchange with one language per role
//   - Message: one immutable utterance with its translation and optional
//     audio references
//   - SearchResult: a matching message with its neighbours for context
//
// Messages have no update path. They are created by the message pipeline and
// removed only when their conversation is deleted.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// messages.conversation_id references conversations(id) ON DELETE CASCADE.
// DeleteConversation additionally removes messages explicitly inside the same
// transaction.
//
// Database file locations:
//
//   - Default: ~/.local/share/medibridge/medibridge.db
//   - Override: MEDIBRIDGE_DB_PATH environment variable
//
// # Timestamps
//
// Timestamps are stored as RFC3339Nano text in UTC. Messages also carry an
// integer insertion sequence which breaks ties when two rows share a
// timestamp, so ListMessages order is stable.
//
// # Atomic Touch
//
// CreateMessage inserts the message and advances the conversation's
// updated_at in one transaction. A message for an unknown conversation
// returns ErrNotFound and writes nothing.
//
// # Migrations
//
// Schema migrations are idempotent and run on startup. Missing columns are
// detected through pragma_table_info before ALTER TABLE.
//
// # Error Handling
//
// Missing rows are reported as ErrNotFound; callers check with errors.Is.
// Other errors are wrapped with the failing step.
package store
