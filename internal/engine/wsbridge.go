/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/circa83/enso-audio/internal/events"
)

// Frame is one JSON message forwarded to a connected UI client.
type Frame struct {
	Type      events.EventType `json:"type"`
	Payload   events.Payload   `json:"payload"`
	TimestampMS int64          `json:"timestampMs"`
}

var bridgedEvents = []events.EventType{
	events.Progress, events.PhaseChange, events.ScheduledEvent,
	events.TransitionStart, events.TransitionComplete,
	events.BufferLoaded, events.BufferError,
}

// handleWebsocket forwards the engine's output events as JSON frames
// to one connected client via an accept/subscribe/write loop.
func (e *Engine) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		e.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	connID := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	e.logger.Info().Str("conn_id", connID).Msg("new state bridge connection")

	subs := make([]events.Subscriber, 0, len(bridgedEvents))
	for _, typ := range bridgedEvents {
		subs = append(subs, e.Bus.Subscribe(typ))
	}
	defer func() {
		for i, typ := range bridgedEvents {
			e.Bus.Unsubscribe(typ, subs[i])
		}
	}()

	if err := wsjson.Write(ctx, conn, Frame{Type: "snapshot", Payload: e.GetFullState(), TimestampMS: time.Now().UnixMilli()}); err != nil {
		return
	}

	cases := make(chan Frame)
	for i, typ := range bridgedEvents {
		go func(typ events.EventType, ch events.Subscriber) {
			for payload := range ch {
				select {
				case cases <- Frame{Type: typ, Payload: payload, TimestampMS: time.Now().UnixMilli()}:
				case <-ctx.Done():
					return
				}
			}
		}(typ, subs[i])
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-cases:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				if websocket.CloseStatus(err) != -1 {
					return
				}
				e.logger.Debug().Err(err).Msg("websocket write error")
				return
			}
		}
	}
}
