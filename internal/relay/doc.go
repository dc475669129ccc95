// Package relay mirrors every committed message onto NATS so processes other
// than the gateway (dashboards, archivers, a second gateway instance) can
// follow conversations. Messages are published as JSON Events on
// <subject_prefix>.<conversation_id>.
//
// The relay is a conversation.Publisher registered after the local
// Registry; a relay outage is logged and never blocks local delivery.
// StartEmbedded runs a NATS server in-process for single-binary deployments.
package relay
