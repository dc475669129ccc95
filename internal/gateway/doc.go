// Package gateway wires the medibridge server together and serves it.
//
// # Overview
//
// New builds every component from configuration: the SQLite store, the
// audio file store, the capability clients, the subscriber Registry, the
// message Pipeline, the optional NATS relay, and telemetry. Run serves the
// HTTP API (on a TCP address or a tailnet node) and, when server.grpc_addr
// is set, a gRPC server carrying the standard grpc.health.v1 service.
//
// # HTTP API
//
//	POST   /api/messages                      submit a message through the pipeline
//	GET    /api/conversations                 list, most recently updated first
//	POST   /api/conversations                 create
//	GET    /api/conversations/search?q=       search message text
//	GET    /api/conversations/{id}            get with message count
//	PATCH  /api/conversations/{id}            rename
//	DELETE /api/conversations/{id}            delete with messages
//	GET    /api/conversations/{id}/messages   list messages oldest first
//	POST   /api/conversations/{id}/summary    clinical summary
//	POST   /api/audio/upload                  store voice input
//	GET    /api/audio/{filename}              serve stored audio
//	GET    /api/ws/{id}                       realtime WebSocket
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # Realtime
//
// Each WebSocket connection owns one conversation.Subscriber. The handler
// defers Leave before calling Join, so the subscriber is removed on every
// exit path. A reader goroutine answers "ping" with "pong"; the writer
// sends each committed message as a JSON frame. A subscriber the registry
// marks done (its queue filled up) is closed with StatusPolicyViolation.
//
// # Shutdown
//
// Shutdown closes the registry first so realtime handlers exit, then stops
// the HTTP and gRPC servers, the tailnet node, the relay, the store, and
// telemetry.
package gateway
