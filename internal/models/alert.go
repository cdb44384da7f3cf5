package models

import "time"

// AlertConfig is the per-instrument inactivity policy. A store-wide default
// applies to every instrument without an explicit override. Changes take
// effect on the next tick evaluation and never rewrite closed alerts.
type AlertConfig struct {
	Enabled            bool          `json:"enabled"`
	Deviation          float64       `json:"deviation"` // symmetric band half-width around the baseline
	Duration           time.Duration `json:"duration"`  // minimum stillness period before an alert opens
	RespectMarketHours bool          `json:"respect_market_hours"`
}

// AlertStatus is the lifecycle state of an alert event.
type AlertStatus string

const (
	StatusOpen   AlertStatus = "open"
	StatusClosed AlertStatus = "closed"
)

// CloseReason records why an open alert was closed.
type CloseReason string

const (
	ReasonBreach       CloseReason = "breach"
	ReasonDisabled     CloseReason = "disabled"
	ReasonMarketClosed CloseReason = "market_closed"
)

// Severity is a read-time classification derived from the observed range and
// the configured deviation. It is recomputed on demand, never persisted.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// PriceRange is the actual price span observed during an episode. It can be
// narrower than the configured band but never wider.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AlertEvent is one inactivity episode that exceeded the configured duration.
// While open, CurrentPrice, Range, and Duration are mutated on every in-band
// tick; all fields freeze the moment the alert closes. InstrumentName is
// resolved once at creation and never updated afterwards.
type AlertEvent struct {
	ID             string        `json:"id"`
	InstrumentKey  string        `json:"instrument_key"`
	InstrumentName string        `json:"instrument_name"`
	Exchange       string        `json:"exchange"`
	BaselinePrice  float64       `json:"baseline_price"`
	CurrentPrice   float64       `json:"current_price"`
	Range          PriceRange    `json:"price_range"`
	Duration       time.Duration `json:"duration"`
	Deviation      float64       `json:"deviation"` // config value at episode start
	Timestamp      time.Time     `json:"timestamp"` // episode start time
	Status         AlertStatus   `json:"status"`
	CloseReason    CloseReason   `json:"close_reason,omitempty"`
	ClosedAt       time.Time     `json:"closed_at,omitempty"`
}

// SeverityOf classifies an alert by how tightly the price clustered relative
// to the allowed band: the narrower the observed range, the higher the
// severity.
func (a *AlertEvent) SeverityOf() Severity {
	spread := a.Range.Max - a.Range.Min
	switch {
	case spread < a.Deviation*0.5:
		return SeverityHigh
	case spread < a.Deviation*0.8:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
