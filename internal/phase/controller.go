/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package phase implements the Phase Transition Controller: the
// authoritative phase list, state diffing on phase entry, and
// serialisation of overlapping transitions via a FIFO queue.
package phase

import (
	"sort"
	"sync"
	"time"

	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/future"
	"github.com/circa83/enso-audio/internal/session"
)

// LayerSwitcher is the subset of the Layer Manager the controller
// needs, expressed as a small interface to keep this a construction
// DAG rather than shared mutable state.
type LayerSwitcher interface {
	ActiveTrack(layer string) string
	SwitchTo(layer, trackID string, durationMS int64) *future.Future[bool]
}

// VolumeFader is the subset of the Volume Controller the controller needs.
type VolumeFader interface {
	SetVolume(layer string, v float64, immediate bool, rampSeconds float64)
	FadeVolume(layer string, v float64, durationSeconds float64, onProgress func(string, float64, float64)) *future.Future[bool]
}

// SchedulerHint lets the controller ask the Timeline Scheduler to
// switch progress-tick frequency during a transition.
type SchedulerHint interface {
	SetHighFrequency(on bool)
}

// Callbacks groups the Phase Transition Controller's outputs.
type Callbacks struct {
	OnTransitionStart    func(phaseID string, phase session.PhaseMarker, durationMS int64)
	OnTransitionComplete func(phaseID string, phase session.PhaseMarker)
}

type queuedTransition struct {
	phase    session.PhaseMarker
	duration int64
}

// Controller is the Phase Transition Controller.
type Controller struct {
	mu sync.Mutex

	phases []session.PhaseMarker

	layers    LayerSwitcher
	volumes   VolumeFader
	scheduler SchedulerHint
	cb        Callbacks

	defaultTransitionMS int64

	activePhaseID string
	queue         []queuedTransition

	selected string // selectMarker surface
}

// New constructs a Controller.
func New(layers LayerSwitcher, volumes VolumeFader, scheduler SchedulerHint, defaultTransitionMS int64, cb Callbacks) *Controller {
	return &Controller{layers: layers, volumes: volumes, scheduler: scheduler, defaultTransitionMS: defaultTransitionMS, cb: cb}
}

// SetPhases replaces the authoritative phase list.
func (c *Controller) SetPhases(phases []session.PhaseMarker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases = append([]session.PhaseMarker(nil), phases...)
	sort.SliceStable(c.phases, func(i, j int) bool { return c.phases[i].Position < c.phases[j].Position })
}

func (c *Controller) resolve(phaseOrID string) (session.PhaseMarker, bool) {
	for _, p := range c.phases {
		if p.ID == phaseOrID {
			return p, true
		}
	}
	return session.PhaseMarker{}, false
}

// StartTransition resolves phaseID to a phase and either runs it
// immediately or, if a transition is already active and immediate is
// false, enqueues it.
func (c *Controller) StartTransition(phaseID string, duration *int64, immediate bool) bool {
	c.mu.Lock()
	phase, ok := c.resolve(phaseID)
	if !ok {
		c.mu.Unlock()
		return false
	}
	d := c.defaultTransitionMS
	if duration != nil {
		d = *duration
	}
	if c.activePhaseID != "" && !immediate {
		c.queue = append(c.queue, queuedTransition{phase: phase, duration: d})
		c.mu.Unlock()
		return true
	}
	c.activePhaseID = phase.ID
	c.mu.Unlock()

	go c.runTransition(phase, d)
	return true
}

func (c *Controller) runTransition(phase session.PhaseMarker, durationMS int64) {
	if c.scheduler != nil {
		c.scheduler.SetHighFrequency(true)
	}
	if c.cb.OnTransitionStart != nil {
		c.cb.OnTransitionStart(phase.ID, phase, durationMS)
	}

	if phase.State != nil {
		var wg sync.WaitGroup
		durationSeconds := float64(durationMS) / 1000.0
		for layer, v := range phase.State.Volumes {
			wg.Add(1)
			go func(layer string, v float64) {
				defer wg.Done()
				c.volumes.FadeVolume(layer, v, durationSeconds, nil).Wait()
			}(layer, v)
		}
		for layer, trackID := range phase.State.ActiveAudio {
			if c.layers.ActiveTrack(layer) == trackID {
				continue
			}
			wg.Add(1)
			go func(layer, trackID string) {
				defer wg.Done()
				c.layers.SwitchTo(layer, trackID, durationMS).Wait()
			}(layer, trackID)
		}
		wg.Wait()
	}

	// The fades/switches above already block for duration; add a 50ms
	// buffer before marking complete.
	time.Sleep(50 * time.Millisecond)
	c.complete(phase)
}

func (c *Controller) complete(phase session.PhaseMarker) {
	if c.scheduler != nil {
		c.scheduler.SetHighFrequency(false)
	}
	if c.cb.OnTransitionComplete != nil {
		c.cb.OnTransitionComplete(phase.ID, phase)
	}

	c.mu.Lock()
	c.activePhaseID = ""
	var next *queuedTransition
	if len(c.queue) > 0 {
		q := c.queue[0]
		c.queue = c.queue[1:]
		next = &q
		c.activePhaseID = q.phase.ID
	}
	c.mu.Unlock()

	if next != nil {
		c.runTransition(next.phase, next.duration)
	}
}

// TriggerPhase applies a phase manually. If immediate, it skips the
// queue and the crossfade, applying volumes immediately and switching
// layers with a 50ms pop-avoiding duration.
func (c *Controller) TriggerPhase(phaseID string, immediate bool) bool {
	if !immediate {
		return c.StartTransition(phaseID, nil, false)
	}
	c.mu.Lock()
	phase, ok := c.resolve(phaseID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	if c.cb.OnTransitionStart != nil {
		c.cb.OnTransitionStart(phase.ID, phase, 50)
	}
	if phase.State != nil {
		for layer, v := range phase.State.Volumes {
			c.volumes.SetVolume(layer, v, true, 0)
		}
		for layer, trackID := range phase.State.ActiveAudio {
			if c.layers.ActiveTrack(layer) == trackID {
				continue
			}
			c.layers.SwitchTo(layer, trackID, 50).Wait()
		}
	}
	if c.cb.OnTransitionComplete != nil {
		c.cb.OnTransitionComplete(phase.ID, phase)
	}
	return true
}

// ApplyPreOnsetPhase locates "pre-onset" (or the first phase) and
// applies its state immediately, if any.
func (c *Controller) ApplyPreOnsetPhase() bool {
	c.mu.Lock()
	var target *session.PhaseMarker
	for i := range c.phases {
		if c.phases[i].ID == "pre-onset" {
			target = &c.phases[i]
			break
		}
	}
	if target == nil && len(c.phases) > 0 {
		target = &c.phases[0]
	}
	c.mu.Unlock()
	if target == nil || target.State == nil {
		return false
	}
	return c.TriggerPhase(target.ID, true)
}

// CancelQueue drops every queued transition (used by stop/reset).
func (c *Controller) CancelQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	c.activePhaseID = ""
}

// SelectMarker / DeselectMarker track which marker a UI editor has
// selected; this is UI-adjacent state, not audio state.
func (c *Controller) SelectMarker(id string) { c.mu.Lock(); c.selected = id; c.mu.Unlock() }
func (c *Controller) DeselectMarker()         { c.mu.Lock(); c.selected = ""; c.mu.Unlock() }
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// MoveMarker clamps newPos into (left+1, right-1) between neighbours,
// refusing if the marker is locked.
func (c *Controller) MoveMarker(id string, newPos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i, p := range c.phases {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return enginerr.New(enginerr.NotFound, "phase.MoveMarker", nil)
	}
	if c.phases[idx].Locked {
		return enginerr.New(enginerr.Invalid, "phase.MoveMarker", nil)
	}
	left := 0.0
	if idx > 0 {
		left = c.phases[idx-1].Position + 1
	}
	right := 100.0
	if idx < len(c.phases)-1 {
		right = c.phases[idx+1].Position - 1
	}
	if newPos < left {
		newPos = left
	}
	if newPos > right {
		newPos = right
	}
	c.phases[idx].Position = newPos
	sort.SliceStable(c.phases, func(i, j int) bool { return c.phases[i].Position < c.phases[j].Position })
	return nil
}

// Phases returns a snapshot of the current phase list.
func (c *Controller) Phases() []session.PhaseMarker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.PhaseMarker(nil), c.phases...)
}
