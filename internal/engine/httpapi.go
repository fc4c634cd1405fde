/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/circa83/enso-audio/internal/telemetry"
)

// Router builds the thin read-only status surface the core exposes:
// health, metrics, and the getFullState() preset surface for one
// session. It deliberately has no collection/track CRUD routes — that
// persistence layer lives outside the core engine.
func (e *Engine) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", e.handleHealthz)
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/sessions/{id}/state", e.handleSessionState)
	r.Get("/sessions/{id}/ws", e.handleWebsocket)

	return r
}

func (e *Engine) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"initialized": e.Host.Initialized(),
		"suspended":   e.Host.IsSuspended(),
	})
}

// handleSessionState ignores the path's session id: one Engine
// currently drives exactly one session, so {id} is accepted for
// forward compatibility with a future multi-session router but not yet
// consulted.
func (e *Engine) handleSessionState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.GetFullState()); err != nil {
		e.logger.Error().Err(err).Msg("failed to encode session state")
	}
}
