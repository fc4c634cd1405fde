/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"sort"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/session"
)

// Loader is a SQLite-backed implementation of the Collection feed
// contract: any function returning a valid Collection.
type Loader struct {
	db *gorm.DB
}

// Open opens (creating if needed) a SQLite-backed Loader at dsn.
func Open(dsn string) (*Loader, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, err
	}
	return &Loader{db: db}, nil
}

// LoadCollection fetches a collection by id, reshapes it to runtime
// form, and repairs dangling phase-state track references.
func (l *Loader) LoadCollection(id string) (*session.Collection, error) {
	var row CollectionModel
	if err := l.db.Preload("Tracks").Preload("Phases.Volumes").Preload("Phases.ActiveAudio").Preload("Volumes").First(&row, "id = ?", id).Error; err != nil {
		return nil, enginerr.New(enginerr.NotFound, "catalog.LoadCollection", err)
	}

	c := &session.Collection{
		ID: row.ID, Name: row.Name, Description: row.Description, CoverImageURL: row.CoverImageURL,
		DefaultSessionDurationMS: row.DefaultSessionDurationMS, DefaultTransitionDurationMS: row.DefaultTransitionDurationMS,
		Layers: map[string][]session.Track{}, DefaultVolumes: map[string]float64{}, DefaultActiveAudio: map[string]string{},
	}

	sort.SliceStable(row.Tracks, func(i, j int) bool { return row.Tracks[i].SortOrder < row.Tracks[j].SortOrder })
	for _, t := range row.Tracks {
		if _, ok := c.Layers[t.Layer]; !ok {
			c.LayerOrder = append(c.LayerOrder, t.Layer)
		}
		c.Layers[t.Layer] = append(c.Layers[t.Layer], session.Track{ID: t.ID, Title: t.Title, AudioURL: t.AudioURL, Layer: t.Layer})
	}

	for _, v := range row.Volumes {
		c.DefaultVolumes[v.Layer] = v.Volume
	}

	for _, p := range row.Phases {
		st := &session.State{Volumes: map[string]float64{}, ActiveAudio: map[string]string{}}
		for _, v := range p.Volumes {
			st.Volumes[v.Layer] = v.Volume
		}
		for _, a := range p.ActiveAudio {
			st.ActiveAudio[a.Layer] = a.TrackID
		}
		c.Phases = append(c.Phases, session.PhaseMarker{ID: p.ID, Name: p.Name, Position: p.Position, Color: p.Color, Locked: p.Locked, State: st})
	}

	c.Normalize()
	return c, nil
}

// Close closes the underlying database connection.
func (l *Loader) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
