// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsUpgrader mirrors the teacher's permissive-origin, large-buffer
// websocket upgrader; CheckOrigin is deliberately host-controlled (TLS
// and framing are spec.md §4.12's "host's responsibility").
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

// WSTransport implements Transport over a gorilla/websocket connection,
// framing each Message as one text frame of JSON.
type WSTransport struct {
	conn *websocket.Conn
}

// NewWSTransport wraps an already-established websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// Send encodes msg and writes it as one text frame.
func (t *WSTransport) Send(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive reads the next text frame and decodes it into a Message. It
// ignores ctx cancellation mid-read since gorilla/websocket has no
// context-aware read; callers relying on prompt cancellation should set
// a read deadline via SetReadDeadline before calling Receive, or close
// the connection to unblock it.
func (t *WSTransport) Receive(ctx context.Context) (Message, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("federation: reading websocket frame: %w", err)
	}
	return Decode(data)
}

// Close closes the underlying connection.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}

// UpgradeHandler returns a gin.HandlerFunc that upgrades an incoming
// HTTP request to a websocket connection and hands the resulting
// Transport to accept, grounded on the teacher's
// services/orchestrator/handlers.HandleChatWebSocket upgrade pattern.
func UpgradeHandler(accept func(ctx context.Context, transport Transport)) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		accept(c.Request.Context(), NewWSTransport(conn))
	}
}
