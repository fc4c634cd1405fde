/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline implements the Timeline Scheduler: elapsed/playing/
// sessionDuration tracking, a 250ms progress ticker (50ms in
// high-frequency mode during transitions), a 100ms event ticker, and
// phase-boundary detection.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/session"
)

// Event is an externally-supplied record with an absolute time that
// fires once while playing.
type Event struct {
	ID       string
	TimeMS   int64
	Payload  map[string]any
	fired    bool
}

// Callbacks groups every output the Timeline Scheduler drives.
type Callbacks struct {
	OnProgress     func(progress float64, elapsedMS int64)
	OnPhaseChange  func(phaseID string, state *session.State)
	OnScheduledEvent func(ev Event)
	// CheckPhaseEntry is invoked whenever checkCurrentPhase finds a new
	// current phase; the Phase Transition Controller wires its
	// startTransition here.
	CheckPhaseEntry func(phase session.PhaseMarker)
}

// Scheduler is the Timeline Scheduler.
type Scheduler struct {
	mu sync.Mutex

	phases []session.PhaseMarker // sorted by Position, immutable view
	events []Event               // sorted by TimeMS

	sessionDurationMS    int64
	transitionDurationMS int64
	elapsedMS            int64
	startWallClockMS     int64
	playing              bool
	nextEventIndex       int
	currentPhaseID       string
	highFrequency        bool

	progressTicker *time.Ticker
	eventTicker    *time.Ticker
	stopCh         chan struct{}

	progressInterval     time.Duration
	highFrequencyInterval time.Duration
	eventInterval        time.Duration

	cb Callbacks

	onStopSelf func() // called when progress reaches 100
}

// New constructs a Scheduler. Elapsed time is measured with the
// package-level nowMS, which reads the wall clock (time.Now).
func New(sessionDurationMS, transitionDurationMS int64, progressInterval, highFrequencyInterval, eventInterval time.Duration, cb Callbacks) *Scheduler {
	return &Scheduler{
		sessionDurationMS:    sessionDurationMS,
		transitionDurationMS: transitionDurationMS,
		progressInterval:     progressInterval,
		highFrequencyInterval: highFrequencyInterval,
		eventInterval:        eventInterval,
		cb:                   cb,
	}
}

// SetOnStopSelf registers the callback fired when progress reaches 100%.
func (s *Scheduler) SetOnStopSelf(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStopSelf = fn
}

// SetPhases replaces the phase list, sorted by Position ascending.
func (s *Scheduler) SetPhases(phases []session.PhaseMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]session.PhaseMarker(nil), phases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	s.phases = sorted
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Start begins playback. If reset, elapsed/index/currentPhase are
// cleared first.
func (s *Scheduler) Start(reset bool) {
	s.mu.Lock()
	if reset {
		s.elapsedMS = 0
		s.nextEventIndex = 0
		s.currentPhaseID = ""
		for i := range s.events {
			s.events[i].fired = false
		}
		if s.cb.OnProgress != nil {
			defer s.cb.OnProgress(0, 0)
		}
	}
	s.startWallClockMS = nowMS() - s.elapsedMS
	s.playing = true
	s.mu.Unlock()

	s.startTickers()
	s.checkCurrentPhase(true)
}

// Pause freezes elapsed and stops the tickers.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.playing {
		s.elapsedMS = nowMS() - s.startWallClockMS
	}
	s.playing = false
	s.mu.Unlock()
	s.stopTickers()
}

// Resume restarts from the frozen elapsed value.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.startWallClockMS = nowMS() - s.elapsedMS
	s.playing = true
	s.mu.Unlock()
	s.startTickers()
	s.checkCurrentPhase(false)
}

// Stop behaves like Pause but the caller is expected to also cancel
// transitions via the Crossfade Engine; the Scheduler itself only owns
// timeline state.
func (s *Scheduler) Stop() {
	s.Pause()
}

// Reset pauses, zeroes state, fires progress 0, and returns the
// pre-onset phase (or first phase) for the caller to apply immediately.
func (s *Scheduler) Reset() (session.PhaseMarker, bool) {
	s.Pause()
	s.mu.Lock()
	s.elapsedMS = 0
	s.nextEventIndex = 0
	s.currentPhaseID = ""
	for i := range s.events {
		s.events[i].fired = false
	}
	phases := s.phases
	s.mu.Unlock()
	if s.cb.OnProgress != nil {
		s.cb.OnProgress(0, 0)
	}
	for _, p := range phases {
		if p.ID == "pre-onset" {
			return p, true
		}
	}
	if len(phases) > 0 {
		return phases[0], true
	}
	return session.PhaseMarker{}, false
}

// Seek clamps ms into [0, sessionDuration], forces a phase check and a
// progress update.
func (s *Scheduler) Seek(ms int64) {
	s.mu.Lock()
	if ms < 0 {
		ms = 0
	}
	if ms > s.sessionDurationMS {
		ms = s.sessionDurationMS
	}
	s.elapsedMS = ms
	if s.playing {
		s.startWallClockMS = nowMS() - s.elapsedMS
	}
	s.mu.Unlock()
	s.emitProgress()
	s.checkCurrentPhase(true)
}

// SeekPercent seeks to a percent of sessionDuration.
func (s *Scheduler) SeekPercent(p float64) {
	s.mu.Lock()
	dur := s.sessionDurationMS
	s.mu.Unlock()
	s.Seek(int64(p / 100.0 * float64(dur)))
}

// SetSessionDuration validates d>0 and forces a phase check.
func (s *Scheduler) SetSessionDuration(d int64) error {
	if d <= 0 {
		return enginerr.New(enginerr.Invalid, "timeline.SetSessionDuration", nil)
	}
	s.mu.Lock()
	s.sessionDurationMS = d
	s.mu.Unlock()
	s.checkCurrentPhase(true)
	return nil
}

// SetTransitionDuration validates d>=0.
func (s *Scheduler) SetTransitionDuration(d int64) error {
	if d < 0 {
		return enginerr.New(enginerr.Invalid, "timeline.SetTransitionDuration", nil)
	}
	s.mu.Lock()
	s.transitionDurationMS = d
	s.mu.Unlock()
	s.checkCurrentPhase(true)
	return nil
}

// TransitionDuration returns the component-level default transition
// duration (used only when a caller omits a per-call duration).
func (s *Scheduler) TransitionDuration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionDurationMS
}

// AddEvent inserts ev in time order, deriving TimeMS from a
// position-percent if the caller only supplied a position. If inserted
// before nextEventIndex, the index rewinds.
func (s *Scheduler) AddEvent(ev Event, positionPercent *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == ev.ID {
			return enginerr.New(enginerr.Invalid, "timeline.AddEvent", nil)
		}
	}
	if positionPercent != nil {
		ev.TimeMS = int64(*positionPercent / 100.0 * float64(s.sessionDurationMS))
	}
	idx := sort.Search(len(s.events), func(i int) bool { return s.events[i].TimeMS > ev.TimeMS })
	s.events = append(s.events, Event{})
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
	if idx < s.nextEventIndex {
		s.nextEventIndex = idx
	}
	return nil
}

// Elapsed returns the current elapsed milliseconds.
func (s *Scheduler) Elapsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nowMS() - s.startWallClockMS
	}
	return s.elapsedMS
}

// Playing reports whether the timeline is currently playing.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetHighFrequency toggles the progress ticker between 250ms/50ms.
func (s *Scheduler) SetHighFrequency(on bool) {
	s.mu.Lock()
	changed := s.highFrequency != on
	s.highFrequency = on
	playing := s.playing
	s.mu.Unlock()
	if changed && playing {
		s.restartProgressTicker()
	}
}

func (s *Scheduler) startTickers() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return // already running
	}
	s.stopCh = make(chan struct{})
	interval := s.progressInterval
	if s.highFrequency {
		interval = s.highFrequencyInterval
	}
	s.progressTicker = time.NewTicker(interval)
	s.eventTicker = time.NewTicker(s.eventInterval)
	stop := s.stopCh
	pt := s.progressTicker
	et := s.eventTicker
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-pt.C:
				s.onProgressTick()
			case <-et.C:
				s.onEventTick()
			}
		}
	}()
}

func (s *Scheduler) restartProgressTicker() {
	s.mu.Lock()
	if s.progressTicker == nil {
		s.mu.Unlock()
		return
	}
	interval := s.progressInterval
	if s.highFrequency {
		interval = s.highFrequencyInterval
	}
	s.progressTicker.Reset(interval)
	s.mu.Unlock()
}

func (s *Scheduler) stopTickers() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.progressTicker != nil {
		s.progressTicker.Stop()
		s.progressTicker = nil
	}
	if s.eventTicker != nil {
		s.eventTicker.Stop()
		s.eventTicker = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) onProgressTick() {
	s.emitProgress()
	s.checkCurrentPhase(false)

	s.mu.Lock()
	dur := s.sessionDurationMS
	elapsed := s.elapsedIfPlayingLocked()
	stopFn := s.onStopSelf
	s.mu.Unlock()

	if dur > 0 && elapsed >= dur && stopFn != nil {
		stopFn()
	}
}

func (s *Scheduler) elapsedIfPlayingLocked() int64 {
	if s.playing {
		return nowMS() - s.startWallClockMS
	}
	return s.elapsedMS
}

func (s *Scheduler) emitProgress() {
	s.mu.Lock()
	elapsed := s.elapsedIfPlayingLocked()
	dur := s.sessionDurationMS
	s.mu.Unlock()
	progress := 100.0
	if dur > 0 {
		progress = float64(elapsed) / float64(dur) * 100.0
		if progress > 100 {
			progress = 100
		}
	}
	if s.cb.OnProgress != nil {
		s.cb.OnProgress(progress, elapsed)
	}
}

func (s *Scheduler) onEventTick() {
	s.mu.Lock()
	elapsed := s.elapsedIfPlayingLocked()
	var toFire []Event
	for s.nextEventIndex < len(s.events) && s.events[s.nextEventIndex].TimeMS <= elapsed {
		s.events[s.nextEventIndex].fired = true
		toFire = append(toFire, s.events[s.nextEventIndex])
		s.nextEventIndex++
	}
	s.mu.Unlock()
	for _, ev := range toFire {
		if s.cb.OnScheduledEvent != nil {
			s.cb.OnScheduledEvent(ev)
		}
	}
}

// checkCurrentPhase finds the last phase with position <= progress. If
// it differs from currentPhase (or forced), updates it and fires
// callbacks.
func (s *Scheduler) checkCurrentPhase(force bool) {
	s.mu.Lock()
	elapsed := s.elapsedIfPlayingLocked()
	dur := s.sessionDurationMS
	progress := 0.0
	if dur > 0 {
		progress = float64(elapsed) / float64(dur) * 100.0
	}
	var found *session.PhaseMarker
	for i := range s.phases {
		if s.phases[i].Position <= progress {
			found = &s.phases[i]
		} else {
			break
		}
	}
	if found == nil && len(s.phases) > 0 {
		found = &s.phases[0]
	}
	if found == nil {
		s.mu.Unlock()
		return
	}
	changed := force || found.ID != s.currentPhaseID
	if changed {
		s.currentPhaseID = found.ID
	}
	phase := *found
	s.mu.Unlock()

	if !changed {
		return
	}
	if s.cb.OnPhaseChange != nil {
		s.cb.OnPhaseChange(phase.ID, phase.State)
	}
	if phase.State != nil && s.cb.CheckPhaseEntry != nil {
		s.cb.CheckPhaseEntry(phase)
	}
}

// CurrentPhaseID returns the id of the currently active phase.
func (s *Scheduler) CurrentPhaseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPhaseID
}
