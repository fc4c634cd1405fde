/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package layer implements the Layer Manager: a per-layer active track
// plus a pool of prepared source nodes, and switchTo delegation to the
// Crossfade Engine.
package layer

import (
	"sync"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/bufcache"
	"github.com/circa83/enso-audio/internal/crossfade"
	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/future"
	"github.com/circa83/enso-audio/internal/session"
	"github.com/circa83/enso-audio/internal/volume"
)

type layerEntry struct {
	activeTrackID  string
	activeNode     audiohost.BufferSourceNode
	nodesByTrackID map[string]audiohost.BufferSourceNode
}

// Manager is the Layer Manager.
type Manager struct {
	mu sync.Mutex

	backend   audiohost.Backend
	cache     *bufcache.Cache
	volumeCtl *volume.Controller
	xfade     *crossfade.Engine

	layers     map[string]*layerEntry
	collection *session.Collection
}

// New constructs a Manager.
func New(backend audiohost.Backend, cache *bufcache.Cache, volumeCtl *volume.Controller, xfade *crossfade.Engine) *Manager {
	return &Manager{
		backend: backend, cache: cache, volumeCtl: volumeCtl, xfade: xfade,
		layers: map[string]*layerEntry{},
	}
}

func (m *Manager) ensureLayer(layer string) *layerEntry {
	le, ok := m.layers[layer]
	if !ok {
		le = &layerEntry{nodesByTrackID: map[string]audiohost.BufferSourceNode{}}
		m.layers[layer] = le
	}
	return le
}

func (m *Manager) makeNode(layer, trackID string) (audiohost.BufferSourceNode, error) {
	track, ok := m.collection.TrackByID(layer, trackID)
	if !ok {
		return nil, enginerr.New(enginerr.NotFound, "layer.makeNode", nil)
	}
	buf, err := m.cache.Get(track.AudioURL)
	if err != nil || buf == nil {
		b, loadErr := m.cache.Load(track.AudioURL, bufcache.LoadOptions{})
		if loadErr != nil {
			return nil, loadErr
		}
		buf = b
	}
	node := m.backend.CreateBufferSource(buf.PCM, buf.SampleRate, buf.Channels)
	return node, nil
}

// RegisterCollection creates one source node per needed track for each
// layer and wires each through VolumeController.ConnectToLayer. Only the
// phase-selected (or default) track is started; the other nodes stay
// connected but are not started, so they produce no sound. No per-node
// gain is set.
func (m *Manager) RegisterCollection(c *session.Collection, initial *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection = c
	m.layers = map[string]*layerEntry{}

	dest := m.backend.Destination()
	for _, layerName := range c.LayerOrder {
		le := m.ensureLayer(layerName)
		activeTrackID := ""
		if initial != nil {
			activeTrackID = initial.ActiveAudio[layerName]
		}
		if activeTrackID == "" && c.DefaultActiveAudio != nil {
			activeTrackID = c.DefaultActiveAudio[layerName]
		}
		for _, t := range c.Layers[layerName] {
			node, err := m.makeNode(layerName, t.ID)
			if err != nil {
				continue
			}
			le.nodesByTrackID[t.ID] = node
			m.volumeCtl.ConnectToLayer(layerName, node, dest)
			if t.ID == activeTrackID {
				node.Start(m.backend.CurrentTime())
				le.activeNode = node
				le.activeTrackID = t.ID
			}
		}
	}
	return nil
}

// ActiveTrack returns the currently active track id for layer.
func (m *Manager) ActiveTrack(layer string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	le, ok := m.layers[layer]
	if !ok {
		return ""
	}
	return le.activeTrackID
}

// SwitchTo switches layer to trackID over durationMS. Returns a
// Future resolved true once the active track id has been updated (or
// immediately true if trackID is already active).
func (m *Manager) SwitchTo(layer, trackID string, durationMS int64) *future.Future[bool] {
	m.mu.Lock()
	le := m.ensureLayer(layer)
	if le.activeTrackID == trackID {
		m.mu.Unlock()
		fut := future.New[bool](func() {})
		fut.Resolve(true)
		return fut
	}
	target, ok := le.nodesByTrackID[trackID]
	if !ok {
		node, err := m.makeNode(layer, trackID)
		if err != nil {
			m.mu.Unlock()
			fut := future.New[bool](func() {})
			fut.Resolve(false)
			return fut
		}
		target = node
		le.nodesByTrackID[trackID] = node
	}
	source := le.activeNode
	currentVolume := m.volumeCtl.GetVolume(layer)
	m.mu.Unlock()

	if source == nil {
		// nothing currently playing on this layer; start target directly.
		dest := m.backend.Destination()
		m.volumeCtl.ConnectToLayer(layer, target, dest)
		target.Start(m.backend.CurrentTime())
		m.mu.Lock()
		le.activeNode = target
		le.activeTrackID = trackID
		m.mu.Unlock()
		fut := future.New[bool](func() {})
		fut.Resolve(true)
		return fut
	}

	inner := m.xfade.Crossfade(crossfade.Params{
		Layer: layer, SourceNode: source, TargetNode: target,
		CurrentVolume: currentVolume, DurationMS: durationMS,
	})

	out := future.New[bool](func() { inner.Cancel() })
	go func() {
		ok := inner.Wait()
		if ok {
			m.mu.Lock()
			le.activeNode = target
			le.activeTrackID = trackID
			m.mu.Unlock()
		}
		out.Resolve(ok)
	}()
	return out
}
