/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audiohost implements the Audio Host: a monotonic audio
// clock, gain/buffer-source node construction, a master output and
// master gain, and suspend/resume of the backend.
//
// The real audio graph (gain ramps, buffer playback) is described only
// through the Backend interface so that a no-op/mock backend can drive
// deterministic tests without real audio hardware.
package audiohost

import (
	"sync"
	"time"

	"github.com/circa83/enso-audio/internal/enginerr"
)

// GainNode is a single automatable gain stage on the audio graph.
// SetValueAtTime and LinearRampToValueAtTime are scheduled on the
// audio clock, mirroring Web-Audio-style automation primitives.
type GainNode interface {
	ID() string
	Value() float64
	SetValueAtTime(value float64, when float64)
	LinearRampToValueAtTime(value float64, when float64)
	CancelScheduledValues(when float64)
	Connect(dest Destination)
	Disconnect()
}

// BufferSourceNode plays a decoded PCM buffer.
type BufferSourceNode interface {
	ID() string
	Start(when float64)
	Stop(when float64)
	Position() float64
	SetPosition(p float64)
	Connect(dest Destination)
	Disconnect()
}

// Destination is an opaque sink a node can be wired to (master
// destination, or a temporary gain node during a crossfade).
type Destination interface {
	ID() string
}

// Backend is the only surface the core depends on for real audio I/O.
type Backend interface {
	CurrentTime() float64 // monotonic seconds since backend start
	CreateGain() GainNode
	CreateBufferSource(buf []byte, sampleRate, channels int) BufferSourceNode
	Destination() Destination
	Resume() error
	Suspend() error
}

// Host is the Audio Host component.
type Host struct {
	mu          sync.Mutex
	backend     Backend
	initialized bool
	suspended   bool
	masterGain  GainNode
	autoResume  bool
}

// New constructs a Host bound to backend. No other core component may
// be constructed until Initialize succeeds.
func New(backend Backend, autoResumeOnInteraction bool) *Host {
	return &Host{backend: backend, autoResume: autoResumeOnInteraction}
}

// Initialize creates the master gain node. Fails with Unsupported if
// backend is nil.
func (h *Host) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend == nil {
		return enginerr.New(enginerr.Unsupported, "audiohost.Initialize", nil)
	}
	h.masterGain = h.backend.CreateGain()
	h.masterGain.SetValueAtTime(1.0, h.backend.CurrentTime())
	h.initialized = true
	return nil
}

// Context exposes the backend's monotonic clock.
func (h *Host) Context() Backend { return h.backend }

// MasterGain returns the master gain node. Returns nil if called before
// Initialize — enforcing construction order is the caller's
// responsibility.
func (h *Host) MasterGain() GainNode { return h.masterGain }

// Destination returns the backend's master destination node.
func (h *Host) Destination() Destination { return h.backend.Destination() }

// SetMasterVolume clamps to [0,1] and schedules a ~10ms ramp; never
// throws.
func (h *Host) SetMasterVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.masterGain == nil {
		return
	}
	now := h.backend.CurrentTime()
	h.masterGain.CancelScheduledValues(now)
	h.masterGain.SetValueAtTime(h.masterGain.Value(), now)
	h.masterGain.LinearRampToValueAtTime(level, now+0.01)
}

// Resume resumes the backend, retrying once on failure.
func (h *Host) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.backend.Resume()
	if err != nil {
		err = h.backend.Resume()
	}
	if err != nil {
		return enginerr.New(enginerr.HostError, "audiohost.Resume", err)
	}
	h.suspended = false
	return nil
}

// Suspend suspends the backend, retrying once on failure.
func (h *Host) Suspend() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.backend.Suspend()
	if err != nil {
		err = h.backend.Suspend()
	}
	if err != nil {
		return enginerr.New(enginerr.HostError, "audiohost.Suspend", err)
	}
	h.suspended = true
	return nil
}

// IsSuspended reports the last known suspend state.
func (h *Host) IsSuspended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspended
}

// OnUserInteraction auto-resumes the backend if configured to.
func (h *Host) OnUserInteraction() {
	h.mu.Lock()
	auto := h.autoResume
	suspended := h.suspended
	h.mu.Unlock()
	if auto && suspended {
		_ = h.Resume()
	}
}

// Teardown marks the host uninitialized. It does not close the backend;
// RealBackend.Close does that.
func (h *Host) Teardown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (h *Host) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// NowUnixMS is a small helper kept for components that need wall-clock
// timestamps independent of the audio clock (e.g. BufferEntry
// timestamps in the Buffer Cache).
func NowUnixMS() int64 { return time.Now().UnixMilli() }
