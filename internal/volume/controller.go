/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package volume implements the Volume Controller: one GainNode per
// layer, created lazily, with every change going through either a
// scheduled ramp or an immediate set.
package volume

import (
	"sync"
	"time"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/future"
)

const tickHz = 20 // fadeVolume onProgress must fire at >= 20Hz

type layerState struct {
	gain       audiohost.GainNode
	volume     float64
	muteStash  *float64
	fadeCancel func()
}

// Controller is the Volume Controller.
type Controller struct {
	mu          sync.Mutex
	backend     audiohost.Backend
	layers      map[string]*layerState
	defaultRamp float64
}

// New constructs a Controller bound to backend, using
// defaultRampSeconds (default 10ms == 0.01) when a caller omits
// rampSeconds.
func New(backend audiohost.Backend, defaultRampSeconds float64) *Controller {
	if defaultRampSeconds <= 0 {
		defaultRampSeconds = 0.01
	}
	return &Controller{backend: backend, layers: map[string]*layerState{}, defaultRamp: defaultRampSeconds}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (c *Controller) ensureLayer(layer string) *layerState {
	ls, ok := c.layers[layer]
	if !ok {
		ls = &layerState{gain: c.backend.CreateGain(), volume: 1.0}
		ls.gain.SetValueAtTime(ls.volume, c.backend.CurrentTime())
		c.layers[layer] = ls
	}
	return ls
}

// Gain returns the (lazily created) gain node for layer, for callers
// (Crossfade Engine, Layer Manager) that need to wire a source into it.
func (c *Controller) Gain(layer string) audiohost.GainNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLayer(layer).gain
}

// SetVolume clamps v to [0,1], cancels any scheduled ramp on layer, and
// either writes immediately or schedules a linear ramp.
func (c *Controller) SetVolume(layer string, v float64, immediate bool, rampSeconds float64) {
	v = clamp01(v)
	c.mu.Lock()
	ls := c.ensureLayer(layer)
	if ls.fadeCancel != nil {
		ls.fadeCancel()
		ls.fadeCancel = nil
	}
	now := c.backend.CurrentTime()
	ls.gain.CancelScheduledValues(now)
	if immediate {
		ls.gain.SetValueAtTime(v, now)
	} else {
		if rampSeconds <= 0 {
			rampSeconds = c.defaultRamp
		}
		ls.gain.SetValueAtTime(ls.gain.Value(), now)
		ls.gain.LinearRampToValueAtTime(v, now+rampSeconds)
	}
	ls.volume = v
	c.mu.Unlock()
}

// GetVolume returns the layer's logical volume.
func (c *Controller) GetVolume(layer string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLayer(layer).volume
}

// FadeVolume schedules a linear ramp to targetV over durationSeconds
// and returns a Future resolving true on completion, false if
// cancelled. onProgress, if non-nil, is called at >=20Hz with the
// analytically computed current value and fraction done.
func (c *Controller) FadeVolume(layer string, targetV float64, durationSeconds float64, onProgress func(layer string, currentValue, fraction float64)) *future.Future[bool] {
	targetV = clamp01(targetV)
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	c.mu.Lock()
	ls := c.ensureLayer(layer)
	if ls.fadeCancel != nil {
		ls.fadeCancel()
	}
	startV := ls.volume
	now := c.backend.CurrentTime()
	ls.gain.CancelScheduledValues(now)
	ls.gain.SetValueAtTime(startV, now)
	ls.gain.LinearRampToValueAtTime(targetV, now+durationSeconds)
	ls.volume = targetV
	c.mu.Unlock()

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	cancel := func() { stopOnce.Do(func() { close(stopCh) }) }

	c.mu.Lock()
	ls.fadeCancel = cancel
	c.mu.Unlock()

	fut := future.New[bool](cancel)

	if durationSeconds <= 0 {
		if onProgress != nil {
			onProgress(layer, targetV, 1.0)
		}
		fut.Resolve(true)
		return fut
	}

	go func() {
		ticker := time.NewTicker(time.Second / tickHz)
		defer ticker.Stop()
		start := time.Now()
		deadline := time.Duration(durationSeconds * float64(time.Second))
		for {
			select {
			case <-stopCh:
				fut.Resolve(false)
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				frac := float64(elapsed) / float64(deadline)
				if frac >= 1.0 {
					frac = 1.0
					if onProgress != nil {
						onProgress(layer, targetV, 1.0)
					}
					fut.Resolve(true)
					return
				}
				cur := startV + (targetV-startV)*frac
				if onProgress != nil {
					onProgress(layer, cur, frac)
				}
			}
		}
	}()

	return fut
}

// Mute stashes the current volume (first call only) and ramps to 0.
func (c *Controller) Mute(layer string) {
	c.mu.Lock()
	ls := c.ensureLayer(layer)
	if ls.muteStash == nil {
		v := ls.volume
		ls.muteStash = &v
	}
	c.mu.Unlock()
	c.SetVolume(layer, 0, false, c.defaultRamp)
}

// Unmute restores the stashed volume and clears the stash.
func (c *Controller) Unmute(layer string) {
	c.mu.Lock()
	ls := c.ensureLayer(layer)
	var restore float64 = 1.0
	if ls.muteStash != nil {
		restore = *ls.muteStash
		ls.muteStash = nil
	}
	c.mu.Unlock()
	c.SetVolume(layer, restore, false, c.defaultRamp)
}

// ConnectToLayer wires source -> layerGain -> destination.
func (c *Controller) ConnectToLayer(layer string, source interface{ Connect(audiohost.Destination) }, destination audiohost.Destination) {
	gain := c.Gain(layer)
	source.Connect(layerDestination{gain})
	gain.Connect(destination)
}

// layerDestination adapts a GainNode to satisfy Destination so a
// source node can be Connect()ed to it.
type layerDestination struct{ g audiohost.GainNode }

func (d layerDestination) ID() string { return d.g.ID() }

// SetMultiple applies an atomic batch of immediate volume sets.
func (c *Controller) SetMultiple(values map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.backend.CurrentTime()
	for layer, v := range values {
		v = clamp01(v)
		ls := c.ensureLayer(layer)
		if ls.fadeCancel != nil {
			ls.fadeCancel()
			ls.fadeCancel = nil
		}
		ls.gain.CancelScheduledValues(now)
		ls.gain.SetValueAtTime(v, now)
		ls.volume = v
	}
}
