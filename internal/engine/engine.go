/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine is the construction DAG facade wiring everything
// together: Audio Host -> {Volume Controller, Buffer Cache} ->
// Crossfade Engine -> {Timeline Scheduler, Phase Transition Controller,
// Layer Manager}, expressed directly as constructor arguments rather
// than a dependency injection graph. It also exposes the preset
// surface (getFullState / registerStateProvider).
package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/bufcache"
	"github.com/circa83/enso-audio/internal/config"
	"github.com/circa83/enso-audio/internal/crossfade"
	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/events"
	"github.com/circa83/enso-audio/internal/layer"
	"github.com/circa83/enso-audio/internal/phase"
	"github.com/circa83/enso-audio/internal/session"
	"github.com/circa83/enso-audio/internal/telemetry"
	"github.com/circa83/enso-audio/internal/timeline"
	"github.com/circa83/enso-audio/internal/volume"
)

// StateProviderFunc supplies one named slice of the preset surface.
type StateProviderFunc func() any

// LeaderWatcher is the subset of the session-ownership registry the
// Engine consults before starting its tickers, kept as a narrow
// interface so the core does not depend on internal/clustered or Redis
// directly.
type LeaderWatcher interface {
	LeaderCh() <-chan bool
}

// Engine wires every core component together for one session.
type Engine struct {
	cfg    config.Config
	logger zerolog.Logger

	Host      *audiohost.Host
	Cache     *bufcache.Cache
	Volume    *volume.Controller
	Crossfade *crossfade.Engine
	Layers    *layer.Manager
	Phase     *phase.Controller
	Timeline  *timeline.Scheduler
	Bus       *events.Bus

	mu         sync.Mutex
	providers  map[string]StateProviderFunc
	collection *session.Collection
	leader     LeaderWatcher
}

// New constructs an Engine from a Backend (real or mock) and Config.
func New(backend audiohost.Backend, fetcher bufcache.Fetcher, decoder bufcache.Decoder, cfg config.Config, logger zerolog.Logger) (*Engine, error) {
	host := audiohost.New(backend, true)
	if err := host.Initialize(); err != nil {
		return nil, err
	}

	cache := bufcache.New(fetcher, decoder, cfg.MaxCacheEntries, cfg.IndeterminatePulse, logger)
	volumeCtl := volume.New(backend, cfg.DefaultRampSeconds)
	bus := events.NewBus()

	e := &Engine{
		cfg: cfg, logger: logger, Host: host, Cache: cache, Volume: volumeCtl, Bus: bus,
		providers: map[string]StateProviderFunc{},
	}

	e.Crossfade = crossfade.New(backend, volumeCtl, host.Destination(), cfg.MinFadeSeconds, cfg.MaxFadeSeconds, e.onCrossfadeProgress)
	e.Layers = layer.New(backend, cache, volumeCtl, e.Crossfade)

	e.Timeline = timeline.New(cfg.DefaultSessionDurationMS, cfg.DefaultTransitionDurationMS,
		cfg.ProgressTickInterval, cfg.HighFrequencyTickInterval, cfg.EventTickInterval,
		timeline.Callbacks{
			OnProgress:       e.onProgress,
			OnPhaseChange:    e.onPhaseChange,
			OnScheduledEvent: e.onScheduledEvent,
			CheckPhaseEntry:  e.onPhaseEntry,
		})
	e.Timeline.SetOnStopSelf(e.Timeline.Stop)

	e.Phase = phase.New(e.Layers, volumeCtl, e.Timeline, cfg.DefaultTransitionDurationMS, phase.Callbacks{
		OnTransitionStart:    e.onTransitionStart,
		OnTransitionComplete: e.onTransitionComplete,
	})

	e.RegisterStateProvider("cache", func() any { return cache.Info() })
	e.RegisterStateProvider("phases", func() any { return e.Phase.Phases() })

	return e, nil
}

// LoadCollection prepares the Layer Manager and Timeline/Phase
// controllers for c, applying the pre-onset phase immediately.
func (e *Engine) LoadCollection(c *session.Collection) error {
	c.Normalize()
	e.mu.Lock()
	e.collection = c
	e.mu.Unlock()

	var initial *session.State
	if len(c.Phases) > 0 {
		initial = c.Phases[0].State
	}
	if err := e.Layers.RegisterCollection(c, initial); err != nil {
		return err
	}
	if initial != nil {
		e.Volume.SetMultiple(initial.Volumes)
	} else {
		e.Volume.SetMultiple(c.DefaultVolumes)
	}

	e.Timeline.SetPhases(c.Phases)
	e.Phase.SetPhases(c.Phases)

	dur := c.DefaultSessionDurationMS
	if dur <= 0 {
		dur = e.cfg.DefaultSessionDurationMS
	}
	if err := e.Timeline.SetSessionDuration(dur); err != nil {
		return err
	}
	if c.DefaultTransitionDurationMS > 0 {
		_ = e.Timeline.SetTransitionDuration(c.DefaultTransitionDurationMS)
	}

	e.Phase.ApplyPreOnsetPhase()
	return nil
}

// Preload is the caller-chosen trigger for warming the Buffer Cache:
// the interface is defined here, the caller decides when to invoke it.
func (e *Engine) Preload(urls []string) map[string]*session.BufferEntry {
	return e.Cache.Preload(urls, bufcache.PreloadOptions{
		Concurrency: e.cfg.PreloadConcurrency,
		OnProgress: func(url string, pct, overall float64) {
			e.Bus.Publish(events.Progress, events.Payload{"url": url, "percent": pct, "overall": overall})
		},
	})
}

// SetLeaderWatcher registers the session-ownership lease the Engine
// should hold before driving playback. Call it before Start.
func (e *Engine) SetLeaderWatcher(w LeaderWatcher) {
	e.mu.Lock()
	e.leader = w
	e.mu.Unlock()
}

// Start/Pause/Resume/Stop/Reset/Seek delegate to the Timeline
// Scheduler, additionally cancelling crossfades/transitions on
// Stop/Reset. If a LeaderWatcher is registered, Start blocks on its
// first leadership report and refuses to start the tickers on a false,
// then watches the channel for the rest of the session and calls Stop
// if the lease is ever lost.
func (e *Engine) Start(reset bool) {
	e.mu.Lock()
	leader := e.leader
	e.mu.Unlock()
	if leader != nil {
		if !<-leader.LeaderCh() {
			e.logger.Warn().Msg("refusing to start: session lease not held")
			return
		}
		go e.watchLeadership(leader)
	}
	e.Timeline.Start(reset)
}

func (e *Engine) watchLeadership(leader LeaderWatcher) {
	if !<-leader.LeaderCh() {
		e.logger.Warn().Msg("lost session lease, stopping")
		e.Stop()
	}
}

func (e *Engine) Pause()  { e.Timeline.Pause() }
func (e *Engine) Resume() { e.Timeline.Resume() }

func (e *Engine) Stop() {
	e.Timeline.Stop()
	e.Crossfade.CancelAll()
	e.Phase.CancelQueue()
}

func (e *Engine) Reset() {
	phase, ok := e.Timeline.Reset()
	e.Crossfade.CancelAll()
	e.Phase.CancelQueue()
	if ok && phase.State != nil {
		e.Phase.TriggerPhase(phase.ID, true)
	}
}

func (e *Engine) Seek(ms int64)          { e.Timeline.Seek(ms) }
func (e *Engine) SeekPercent(p float64)  { e.Timeline.SeekPercent(p) }

// TriggerPhase manually applies a phase.
func (e *Engine) TriggerPhase(phaseID string, immediate bool) bool {
	return e.Phase.TriggerPhase(phaseID, immediate)
}

// RegisterStateProvider adds a named function to the preset surface.
func (e *Engine) RegisterStateProvider(id string, fn StateProviderFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[id] = fn
}

// GetFullState assembles {phases, timestamp, <providerId: state>} by
// invoking every registered provider.
func (e *Engine) GetFullState() map[string]any {
	e.mu.Lock()
	providers := make(map[string]StateProviderFunc, len(e.providers))
	for k, v := range e.providers {
		providers[k] = v
	}
	e.mu.Unlock()

	out := map[string]any{
		"phases":    e.Phase.Phases(),
		"timestamp": time.Now().UnixMilli(),
	}
	for id, fn := range providers {
		out[id] = safeInvoke(fn)
	}
	return out
}

// safeInvoke wraps a provider call so a panicking consumer does not
// corrupt engine state.
func safeInvoke(fn StateProviderFunc) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = map[string]any{"error": "state provider panicked"}
		}
	}()
	return fn()
}

func (e *Engine) onProgress(progress float64, elapsedMS int64) {
	e.Bus.Publish(events.Progress, events.Payload{"progress": progress, "elapsedMs": elapsedMS})
}

func (e *Engine) onPhaseChange(phaseID string, state *session.State) {
	e.Bus.Publish(events.PhaseChange, events.Payload{"phaseId": phaseID, "state": state})
}

func (e *Engine) onScheduledEvent(ev timeline.Event) {
	e.Bus.Publish(events.ScheduledEvent, events.Payload{"id": ev.ID, "timeMs": ev.TimeMS, "payload": ev.Payload})
}

func (e *Engine) onPhaseEntry(p session.PhaseMarker) {
	e.Phase.StartTransition(p.ID, nil, false)
}

func (e *Engine) onTransitionStart(phaseID string, p session.PhaseMarker, durationMS int64) {
	telemetry.ActiveTransitions.Set(1)
	e.Bus.Publish(events.TransitionStart, events.Payload{"phaseId": phaseID, "durationMs": durationMS})
}

func (e *Engine) onTransitionComplete(phaseID string, p session.PhaseMarker) {
	telemetry.ActiveTransitions.Set(0)
	e.Bus.Publish(events.TransitionComplete, events.Payload{"phaseId": phaseID})
}

func (e *Engine) onCrossfadeProgress(layer string, progress float64) {
	e.Bus.Publish(events.Progress, events.Payload{"layer": layer, "crossfadeProgress": progress})
}

// AddEvent exposes the Timeline Scheduler's addEvent operation with
// validation mapped to the engine's error taxonomy.
func (e *Engine) AddEvent(ev timeline.Event, positionPercent *float64) error {
	if err := e.Timeline.AddEvent(ev, positionPercent); err != nil {
		return enginerr.New(enginerr.Invalid, "engine.AddEvent", err)
	}
	return nil
}
