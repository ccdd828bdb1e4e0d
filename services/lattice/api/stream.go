// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianLattice/services/lattice/engine"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 32
)

// The inspection API listens on loopback by default and carries no
// credentials, so any origin may attach.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// StreamEvent is one websocket frame of GET /stream.
type StreamEvent struct {
	// Type is "hello" on connect, then "cycle" per completed cycle.
	Type  string             `json:"type"`
	Cycle int64              `json:"cycle"`
	Stats *engine.CycleStats `json:"stats,omitempty"`
}

// HandleStream handles GET /stream.
//
// Description:
//
//	Upgrades to a websocket and pushes a StreamEvent per completed cycle
//	until the client goes away or the broadcast sink closes. A client that
//	falls behind misses cycles rather than slowing the engine. Frames sent
//	by the client are read and discarded.
//
// Response:
//
//	101 Switching Protocols: websocket of StreamEvent frames
//	503 Service Unavailable: no engine stream is attached
func (h *Handlers) HandleStream(c *gin.Context) {
	if h.stream == nil || h.engine == nil {
		abort(c, http.StatusServiceUnavailable, "NO_ENGINE", "no engine is attached")
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	events, cancel := h.stream.Subscribe(streamBuffer)
	defer cancel()
	h.logger.Debug("stream client connected", slog.String("remote", c.Request.RemoteAddr))

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev StreamEvent) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := ws.WriteJSON(ev); err != nil {
			h.logger.Debug("stream write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}
	if !send(StreamEvent{Type: "hello", Cycle: h.engine.Cycle()}) {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case st, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(streamWriteWait))
				return
			}
			if !send(StreamEvent{Type: "cycle", Cycle: st.Cycle, Stats: &st}) {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
