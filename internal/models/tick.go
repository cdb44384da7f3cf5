// Package models defines the core domain entities: ticks, alert
// configurations, alert events, and per-instrument monitor state.
package models

import (
	"errors"
	"math"
	"time"
)

// Tick is a single normalized price update from a feed. Ticks are never
// mutated after creation. EventTime is supplied by the source and is not
// guaranteed monotonic per instrument; ReceivedTime is the local ingestion
// clock and is non-decreasing per feed.
type Tick struct {
	InstrumentKey string    `json:"instrument_key"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Volume        float64   `json:"volume"`
	EventTime     time.Time `json:"event_time"`
	ReceivedTime  time.Time `json:"received_time"`
}

// Validate reports whether the tick is well-formed enough to evaluate.
// Non-positive and non-finite prices are rejected so that malformed feed
// data cannot reset or extend an episode.
func (t *Tick) Validate() error {
	if t.InstrumentKey == "" {
		return errors.New("instrument key must not be empty")
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return errors.New("price must be finite")
	}
	if t.Price <= 0 {
		return errors.New("price must be positive")
	}
	return nil
}
