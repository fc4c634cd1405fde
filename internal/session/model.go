/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session defines the data model shared by every core
// component: Collection, Track, PhaseMarker, State, Session,
// BufferEntry, and LayerState.
package session

import "sort"

// Variation is an alternate rendering of a Track.
type Variation struct {
	ID       string
	Title    string
	AudioURL string
}

// Track is a single piece of audio belonging to one layer.
type Track struct {
	ID         string
	Title      string
	AudioURL   string
	Layer      string
	Variations []Variation
}

// PhaseMarker is a named point on the session timeline.
type PhaseMarker struct {
	ID       string
	Name     string
	Position float64 // percent of session, [0,100]
	Color    string
	Locked   bool
	State    *State // captured audio state, optional
}

// State is the captured per-layer audio configuration for a phase.
type State struct {
	Volumes     map[string]float64 // layer -> [0,1]
	ActiveAudio map[string]string  // layer -> trackId
}

// CloneState returns a deep copy of s, or nil if s is nil.
func CloneState(s *State) *State {
	if s == nil {
		return nil
	}
	out := &State{
		Volumes:     make(map[string]float64, len(s.Volumes)),
		ActiveAudio: make(map[string]string, len(s.ActiveAudio)),
	}
	for k, v := range s.Volumes {
		out.Volumes[k] = v
	}
	for k, v := range s.ActiveAudio {
		out.ActiveAudio[k] = v
	}
	return out
}

// Collection is layers x tracks + phases + session defaults.
type Collection struct {
	ID                          string
	Name                        string
	Description                 string
	CoverImageURL               string
	Layers                      map[string][]Track // layer name -> ordered tracks
	LayerOrder                  []string            // preserves registration order
	Phases                      []PhaseMarker       // ordered by Position
	DefaultSessionDurationMS    int64
	DefaultTransitionDurationMS int64
	DefaultVolumes              map[string]float64
	DefaultActiveAudio          map[string]string
}

// TrackByID looks up a track within a layer.
func (c *Collection) TrackByID(layer, trackID string) (Track, bool) {
	for _, t := range c.Layers[layer] {
		if t.ID == trackID {
			return t, true
		}
	}
	return Track{}, false
}

// Normalize sorts phases by position, forces the first phase to
// position 0, and repairs State.ActiveAudio entries that reference
// missing tracks by substituting the layer's first track, or removing
// the entry if the layer is empty. This is the repair behaviour every
// Collection loader is expected to apply.
func (c *Collection) Normalize() {
	sort.SliceStable(c.Phases, func(i, j int) bool {
		return c.Phases[i].Position < c.Phases[j].Position
	})
	if len(c.Phases) > 0 {
		c.Phases[0].Position = 0
	}
	for i := range c.Phases {
		st := c.Phases[i].State
		if st == nil {
			continue
		}
		for layer, trackID := range st.ActiveAudio {
			if _, ok := c.TrackByID(layer, trackID); ok {
				continue
			}
			tracks := c.Layers[layer]
			if len(tracks) == 0 {
				delete(st.ActiveAudio, layer)
				continue
			}
			st.ActiveAudio[layer] = tracks[0].ID
		}
	}
}

// Session is the playback-position state tracked by the Timeline
// Scheduler.
type Session struct {
	SessionDurationMS    int64
	TransitionDurationMS int64
	ElapsedMS            int64
	Playing              bool
	StartWallClockMS     int64 // only meaningful while Playing
}

// BufferEntry is a cached decoded audio buffer.
type BufferEntry struct {
	URL              string
	PCM              []byte // decoded interleaved S16LE samples
	SizeBytes        int64
	DurationSeconds  float64
	SampleRate       int
	Channels         int
	CreatedUnixMS    int64
	LastAccessUnixMS int64
	RefCount         int32
}

// LayerState is the runtime state the Layer Manager tracks per layer.
type LayerState struct {
	Layer              string
	CurrentTrackID     string
	CurrentNodeID      string
	PendingNodeID      string // companion node mid-crossfade, if any
	CurrentVolume      float64
	MuteStash          *float64
}
