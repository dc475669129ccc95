// ABOUTME: Realtime WebSocket endpoint streaming a conversation's new messages
// ABOUTME: One subscriber per connection; slow readers are disconnected with a policy violation

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/medibridge/internal/conversation"
	"github.com/2389/medibridge/internal/store"
)

const defaultWriteTimeout = 10 * time.Second

// pingFrame is the JSON keepalive form, {"type":"ping"}
type pingFrame struct {
	Type string `json:"type"`
}

// handleRealtime handles GET /api/ws/{id}. Unknown conversations get a 404
// before the upgrade.
func (g *Gateway) handleRealtime(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		g.logger.Error("failed to load conversation for realtime", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Realtime.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "conversation_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	sub := conversation.NewSubscriber(id, g.config.Realtime.SubscriberBuffer)
	defer g.registry.Leave(sub)
	if err := g.registry.Join(sub); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	g.logger.Info("realtime client connected",
		"conversation_id", id,
		"sub_id", sub.ID,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readRealtime(ctx, cancel, conn, sub)
	reason := g.writeRealtime(ctx, conn, sub)

	g.logger.Info("realtime client disconnected",
		"conversation_id", id,
		"sub_id", sub.ID,
		"reason", reason)
}

// readRealtime answers keepalive pings until the client goes away. It never
// touches the pipeline or the store.
func (g *Gateway) readRealtime(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *conversation.Subscriber) {
	defer cancel()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		reply := pingReply(data)
		if reply == nil {
			continue
		}
		writeCtx, writeCancel := context.WithTimeout(ctx, g.writeTimeout())
		err = conn.Write(writeCtx, websocket.MessageText, reply)
		writeCancel()
		if err != nil {
			g.logger.Debug("pong write failed", "sub_id", sub.ID, "error", err)
			return
		}
	}
}

// writeRealtime drains the subscriber queue onto the connection and returns
// why it stopped.
func (g *Gateway) writeRealtime(ctx context.Context, conn *websocket.Conn, sub *conversation.Subscriber) string {
	for {
		select {
		case <-ctx.Done():
			return "client closed"

		case <-sub.Done():
			if g.registry.Closed() {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return "shutdown"
			}
			_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return "too slow"

		case msg := <-sub.Messages():
			writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout())
			err := wsjson.Write(writeCtx, conn, toMessageResponse(msg))
			cancel()
			if err != nil {
				g.logger.Debug("realtime write failed",
					"sub_id", sub.ID,
					"message_id", msg.ID,
					"error", err)
				return "write failed"
			}
		}
	}
}

func (g *Gateway) writeTimeout() time.Duration {
	if g.config.Realtime.WriteTimeout > 0 {
		return g.config.Realtime.WriteTimeout
	}
	return defaultWriteTimeout
}

// pingReply returns the answer to a keepalive frame, or nil for anything else.
func pingReply(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "ping" {
		return []byte("pong")
	}

	var frame pingFrame
	if err := json.Unmarshal(trimmed, &frame); err == nil && frame.Type == "ping" {
		return []byte(`{"type":"pong"}`)
	}
	return nil
}
