/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package crossfade implements the Crossfade Engine: a linear
// equal-time gain crossfade between a source and a target node,
// performed on two temporary gain nodes. Only the linear law is
// implemented — no logarithmic/exponential/s-curve variants.
package crossfade

import (
	"sync"
	"time"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/future"
	"github.com/circa83/enso-audio/internal/telemetry"
	"github.com/circa83/enso-audio/internal/volume"
)

const (
	epsilon  = 0.001
	tickRate = 20 // Hz
)

// Params describes one crossfade request.
type Params struct {
	Layer         string
	SourceNode    audiohost.BufferSourceNode
	TargetNode    audiohost.BufferSourceNode
	CurrentVolume float64
	DurationMS    int64
	SyncPosition  bool
	SourceLength  float64 // seconds, only used when SyncPosition
	TargetLength  float64
}

// Engine is the Crossfade Engine. One active crossfade per layer.
type Engine struct {
	backend     audiohost.Backend
	volumeCtl   *volume.Controller
	destination audiohost.Destination
	minFade     float64
	maxFade     float64
	onProgress  func(layer string, progress float64)

	mu     sync.Mutex
	active map[string]*active
}

type active struct {
	mu            sync.Mutex
	gOut, gIn     audiohost.GainNode
	source, target audiohost.BufferSourceNode
	currentVolume float64
	start         time.Time
	duration      time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	fut           *future.Future[bool]
	progress      float64
}

// New constructs an Engine. onProgress receives (layer, progress∈[0,1])
// at >=20Hz while a crossfade is in flight.
func New(backend audiohost.Backend, volumeCtl *volume.Controller, destination audiohost.Destination, minFade, maxFade float64, onProgress func(layer string, progress float64)) *Engine {
	if minFade <= 0 {
		minFade = 0.05
	}
	if maxFade <= 0 {
		maxFade = 30
	}
	return &Engine{
		backend: backend, volumeCtl: volumeCtl, destination: destination,
		minFade: minFade, maxFade: maxFade, onProgress: onProgress,
		active: map[string]*active{},
	}
}

func clampDuration(ms int64, min, max float64) float64 {
	s := float64(ms) / 1000.0
	if s < min {
		s = min
	}
	if s > max {
		s = max
	}
	return s
}

// Crossfade starts (or supersedes) the active crossfade on params.Layer.
func (e *Engine) Crossfade(params Params) *future.Future[bool] {
	e.mu.Lock()
	if prev, ok := e.active[params.Layer]; ok {
		e.cancelLocked(prev, false, false)
	}

	gOut := e.backend.CreateGain()
	gIn := e.backend.CreateGain()
	now := e.backend.CurrentTime()
	gOut.SetValueAtTime(params.CurrentVolume, now)
	gIn.SetValueAtTime(epsilon, now)

	params.SourceNode.Disconnect()
	params.TargetNode.Disconnect()
	params.SourceNode.Connect(gOut)
	gOut.Connect(e.destination)
	params.TargetNode.Connect(gIn)
	gIn.Connect(e.destination)

	if params.SyncPosition && params.SourceLength > 0 && params.TargetLength > 0 {
		pos := params.SourceNode.Position() * params.TargetLength / params.SourceLength
		if pos < 0 {
			pos = 0
		}
		if pos > params.TargetLength {
			pos = params.TargetLength
		}
		params.TargetNode.SetPosition(pos)
	}
	params.TargetNode.Start(now)

	durationSeconds := clampDuration(params.DurationMS, e.minFade, e.maxFade)
	gOut.SetValueAtTime(params.CurrentVolume, now)
	gOut.LinearRampToValueAtTime(epsilon, now+durationSeconds)
	gIn.SetValueAtTime(epsilon, now)
	gIn.LinearRampToValueAtTime(params.CurrentVolume, now+durationSeconds)

	a := &active{
		gOut: gOut, gIn: gIn, source: params.SourceNode, target: params.TargetNode,
		currentVolume: params.CurrentVolume, start: time.Now(), duration: time.Duration(durationSeconds * float64(time.Second)),
		stop: make(chan struct{}),
	}
	a.fut = future.New[bool](func() { e.Cancel(params.Layer, true, true) })
	e.active[params.Layer] = a
	e.mu.Unlock()

	go e.run(params.Layer, a)

	return a.fut
}

func (e *Engine) run(layer string, a *active) {
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			elapsed := time.Since(a.start)
			progress := 1.0
			if a.duration > 0 {
				progress = float64(elapsed) / float64(a.duration)
				if progress > 1.0 {
					progress = 1.0
				}
			}
			a.mu.Lock()
			a.progress = progress
			a.mu.Unlock()
			if e.onProgress != nil {
				e.onProgress(layer, progress)
			}
			if progress >= 1.0 {
				e.complete(layer, a)
				return
			}
		}
	}
}

func (e *Engine) complete(layer string, a *active) {
	e.mu.Lock()
	if e.active[layer] != a {
		e.mu.Unlock()
		return
	}
	delete(e.active, layer)
	e.mu.Unlock()

	telemetry.CrossfadeDuration.Observe(time.Since(a.start).Seconds())

	a.gOut.Disconnect()
	a.gIn.Disconnect()
	a.target.Disconnect()
	e.volumeCtl.ConnectToLayer(layer, a.target, e.destination)
	a.source.Stop(e.backend.CurrentTime())
	a.source.Disconnect()

	a.stopOnce.Do(func() { close(a.stop) })
	a.fut.Resolve(true)
}

// Cancel stops the active crossfade on layer, optionally reconnecting
// the source and/or target node directly to the destination.
func (e *Engine) Cancel(layer string, reconnectSource, reconnectTarget bool) {
	e.mu.Lock()
	a, ok := e.active[layer]
	if ok {
		delete(e.active, layer)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.cancelLocked(a, reconnectSource, reconnectTarget)
}

func (e *Engine) cancelLocked(a *active, reconnectSource, reconnectTarget bool) {
	a.stopOnce.Do(func() { close(a.stop) })
	a.gOut.Disconnect()
	a.gIn.Disconnect()
	if reconnectSource {
		a.source.Connect(e.destination)
	}
	if reconnectTarget {
		a.target.Connect(e.destination)
	}
	a.fut.Resolve(false)
}

// AdjustCrossfadeVolume re-derives gOut/gIn from a new logical volume
// at the crossfade's current progress.
func (e *Engine) AdjustCrossfadeVolume(layer string, newV float64) bool {
	e.mu.Lock()
	a, ok := e.active[layer]
	e.mu.Unlock()
	if !ok {
		return false
	}
	a.mu.Lock()
	p := a.progress
	a.currentVolume = newV
	a.mu.Unlock()

	now := e.backend.CurrentTime()
	a.gOut.CancelScheduledValues(now)
	a.gIn.CancelScheduledValues(now)
	a.gOut.SetValueAtTime(newV*(1-p), now)
	a.gIn.SetValueAtTime(newV*p, now)
	return true
}

// Active reports whether layer currently has a crossfade in flight.
func (e *Engine) Active(layer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[layer]
	return ok
}

// CancelAll cancels every active crossfade, reconnecting nothing (used
// by the engine facade's Stop/Reset).
func (e *Engine) CancelAll() {
	e.mu.Lock()
	all := make([]*active, 0, len(e.active))
	for k, a := range e.active {
		all = append(all, a)
		delete(e.active, k)
	}
	e.mu.Unlock()
	for _, a := range all {
		e.cancelLocked(a, false, false)
	}
}
