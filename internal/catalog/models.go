/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog is a reference implementation of the external
// "collection feed" contract — any function returning a valid
// Collection. Persistence for the collection/track catalogue is
// explicitly out of scope for the core engine, but something has to
// implement the contract; cmd/audioengine's serve subcommand loads a
// collection through it when --collection is given (simulate uses an
// in-code fixture instead). Modeled on this codebase's gorm
// conventions.
package catalog

// CollectionModel is the persisted row for a Collection.
type CollectionModel struct {
	ID                          string `gorm:"primaryKey"`
	Name                        string
	Description                 string
	CoverImageURL               string
	DefaultSessionDurationMS    int64
	DefaultTransitionDurationMS int64

	Tracks  []TrackModel       `gorm:"foreignKey:CollectionID"`
	Phases  []PhaseMarkerModel `gorm:"foreignKey:CollectionID"`
	Volumes []DefaultVolumeModel `gorm:"foreignKey:CollectionID"`
}

// TrackModel is a row belonging to one layer of one collection.
type TrackModel struct {
	ID           string `gorm:"primaryKey"`
	CollectionID string `gorm:"index"`
	Layer        string
	Title        string
	AudioURL     string
	SortOrder    int
}

// PhaseMarkerModel is a row describing one phase of one collection.
type PhaseMarkerModel struct {
	ID           string `gorm:"primaryKey"`
	CollectionID string `gorm:"index"`
	Name         string
	Position     float64
	Color        string
	Locked       bool

	Volumes     []PhaseVolumeModel     `gorm:"foreignKey:PhaseMarkerID"`
	ActiveAudio []PhaseActiveAudioModel `gorm:"foreignKey:PhaseMarkerID"`
}

// PhaseVolumeModel is one layer->volume entry of a phase's captured state.
type PhaseVolumeModel struct {
	PhaseMarkerID string `gorm:"primaryKey"`
	Layer         string `gorm:"primaryKey"`
	Volume        float64
}

// PhaseActiveAudioModel is one layer->trackId entry of a phase's state.
type PhaseActiveAudioModel struct {
	PhaseMarkerID string `gorm:"primaryKey"`
	Layer         string `gorm:"primaryKey"`
	TrackID       string
}

// DefaultVolumeModel is a collection-level default layer volume.
type DefaultVolumeModel struct {
	CollectionID string `gorm:"primaryKey"`
	Layer        string `gorm:"primaryKey"`
	Volume       float64
}

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&CollectionModel{}, &TrackModel{}, &PhaseMarkerModel{},
		&PhaseVolumeModel{}, &PhaseActiveAudioModel{}, &DefaultVolumeModel{},
	}
}
