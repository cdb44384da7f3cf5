package models

import "time"

// InstrumentState is the rolling monitor state for one instrument key.
// Created lazily on the first tick and held for the process lifetime.
//
// Invariants while an episode is open: BandMin <= BaselinePrice <= BandMax,
// ObservedMin >= BandMin, ObservedMax <= BandMax. A tick outside the band
// always closes or restarts the episode, never extends it.
type InstrumentState struct {
	InstrumentKey string

	HasBaseline   bool
	BaselinePrice float64
	BandMin       float64
	BandMax       float64

	EpisodeStart time.Time
	ObservedMin  float64
	ObservedMax  float64

	LastTickTime time.Time // freeze diagnostics only, independent of episodes

	IsAlerting    bool
	ActiveAlertID string
}
