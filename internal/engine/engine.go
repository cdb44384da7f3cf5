// Package engine implements the per-instrument price-inactivity state
// machine. It consumes ticks in feed arrival order, tracks a deviation band
// around a rolling baseline per instrument, and raises an alert when prices
// stay inside the band for at least the configured duration.
package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/quietdesk/stillwatch/internal/alertcfg"
	"github.com/quietdesk/stillwatch/internal/alertlog"
	"github.com/quietdesk/stillwatch/internal/logger"
	"github.com/quietdesk/stillwatch/internal/models"
	"github.com/quietdesk/stillwatch/internal/resolve"
	"github.com/quietdesk/stillwatch/internal/session"
)

// Effects describes what a single OnTick call did, for downstream sinks
// (notifier, archive, metrics). At most one of Opened, Updated, Closed is set
// per call; Dropped marks a malformed tick that changed nothing. OracleFailed
// marks a session-oracle error during this evaluation, resolved by the fail
// policy.
type Effects struct {
	Opened       *models.AlertEvent
	Updated      *models.AlertEvent
	Closed       *models.AlertEvent
	Dropped      bool
	OracleFailed bool
}

// Counters are monotonic diagnostics maintained by the engine.
type Counters struct {
	TicksProcessed   uint64
	MalformedDropped uint64
	OracleFailures   uint64
}

// Engine is one feed's detection state machine. OnTick is a synchronous,
// O(1), I/O-free state transition. The engine is not safe for concurrent use:
// it must be driven by a single goroutine per feed, and any cross-goroutine
// reads serialized by the caller.
type Engine struct {
	configs    *alertcfg.Store
	log        *alertlog.Log
	oracle     session.Oracle
	failPolicy session.FailPolicy
	resolver   resolve.Resolver

	states   map[string]*models.InstrumentState
	open     map[string]*models.AlertEvent // instrument key -> open alert
	counters Counters
}

// New creates an engine over the given collaborators. The configuration
// store is shared with nobody else; single-writer discipline per feed.
func New(configs *alertcfg.Store, log *alertlog.Log, oracle session.Oracle, policy session.FailPolicy, resolver resolve.Resolver) *Engine {
	return &Engine{
		configs:    configs,
		log:        log,
		oracle:     oracle,
		failPolicy: policy,
		resolver:   resolver,
		states:     make(map[string]*models.InstrumentState),
		open:       make(map[string]*models.AlertEvent),
	}
}

func (e *Engine) getOrCreateState(key string) *models.InstrumentState {
	if st, ok := e.states[key]; ok {
		return st
	}
	st := &models.InstrumentState{InstrumentKey: key}
	e.states[key] = st
	return st
}

// OnTick folds one tick into the per-instrument state and returns the
// resulting alert transitions. Malformed ticks (non-finite or non-positive
// price, missing key) are dropped with a counter increment and never reach
// the episode logic.
func (e *Engine) OnTick(tick models.Tick) Effects {
	if err := tick.Validate(); err != nil {
		e.counters.MalformedDropped++
		logger.Debug("Dropped malformed tick for %q: %v", tick.InstrumentKey, err)
		return Effects{Dropped: true}
	}
	e.counters.TicksProcessed++

	st := e.getOrCreateState(tick.InstrumentKey)
	st.LastTickTime = tick.ReceivedTime

	cfg := e.configs.Get(tick.InstrumentKey)
	if !cfg.Enabled {
		return e.suspend(st, models.ReasonDisabled, tick.ReceivedTime)
	}

	// Market-hours gating suppresses alerts but keeps tracking the episode,
	// so that reopening the market can open an alert on the very next in-band
	// tick once the duration has already elapsed.
	var fx Effects
	gated := false
	if cfg.RespectMarketHours {
		status, err := e.oracle.IsOpen(tick.InstrumentKey, tick.EventTime)
		open := status.Open
		if err != nil {
			e.counters.OracleFailures++
			fx.OracleFailed = true
			open = e.failPolicy == session.FailOpen
			logger.Warn("Session oracle failed for %s (%s): %v", tick.InstrumentKey, e.failPolicy, err)
		}
		if !open {
			gated = true
			if st.IsAlerting {
				fx.Closed = e.closeAlert(st, models.ReasonMarketClosed, tick.ReceivedTime)
			}
		}
	}

	// The band is anchored at the episode baseline but its half-width always
	// comes from the live config, so a narrower deviation applied mid-episode
	// can break containment on the very next tick.
	if st.HasBaseline {
		st.BandMin = st.BaselinePrice - cfg.Deviation
		st.BandMax = st.BaselinePrice + cfg.Deviation
	}

	if !st.HasBaseline || tick.Price < st.BandMin || tick.Price > st.BandMax {
		if st.IsAlerting {
			fx.Closed = e.closeAlert(st, models.ReasonBreach, tick.ReceivedTime)
		}
		st.HasBaseline = true
		st.BaselinePrice = tick.Price
		st.BandMin = tick.Price - cfg.Deviation
		st.BandMax = tick.Price + cfg.Deviation
		st.EpisodeStart = tick.EventTime
		st.ObservedMin = tick.Price
		st.ObservedMax = tick.Price
		return fx
	}

	// In band; band edges count as inside.
	if tick.Price < st.ObservedMin {
		st.ObservedMin = tick.Price
	}
	if tick.Price > st.ObservedMax {
		st.ObservedMax = tick.Price
	}

	if gated {
		return fx
	}

	elapsed := tick.EventTime.Sub(st.EpisodeStart)
	if elapsed < 0 {
		// Out-of-order event times clamp to zero rather than corrupting state.
		elapsed = 0
	}
	if elapsed < cfg.Duration {
		return fx
	}

	observed := models.PriceRange{Min: st.ObservedMin, Max: st.ObservedMax}

	if !st.IsAlerting {
		name := e.resolver.Name(tick.InstrumentKey)
		ev := &models.AlertEvent{
			ID:             uuid.NewString(),
			InstrumentKey:  tick.InstrumentKey,
			InstrumentName: name,
			Exchange:       e.resolver.Exchange(name),
			BaselinePrice:  st.BaselinePrice,
			CurrentPrice:   tick.Price,
			Range:          observed,
			Duration:       elapsed,
			Deviation:      cfg.Deviation,
			Timestamp:      st.EpisodeStart,
			Status:         models.StatusOpen,
		}
		st.IsAlerting = true
		st.ActiveAlertID = ev.ID
		e.open[st.InstrumentKey] = ev
		e.log.Opened(*ev)
		logger.Info("Alert opened: %s (%s) stuck at %.4f ±%.4f for %v",
			tick.InstrumentKey, name, st.BaselinePrice, cfg.Deviation, elapsed)
		opened := *ev
		fx.Opened = &opened
		return fx
	}

	ev := e.open[st.InstrumentKey]
	ev.CurrentPrice = tick.Price
	ev.Range = observed
	ev.Duration = elapsed
	e.log.Updated(*ev)
	updated := *ev
	fx.Updated = &updated
	return fx
}

// suspend handles disabled instruments: any open alert closes with the given
// reason and the episode state is cleared so that a later re-enable starts
// fresh.
func (e *Engine) suspend(st *models.InstrumentState, reason models.CloseReason, now time.Time) Effects {
	var fx Effects
	if st.IsAlerting {
		fx.Closed = e.closeAlert(st, reason, now)
	}
	st.HasBaseline = false
	st.BaselinePrice = 0
	st.BandMin = 0
	st.BandMax = 0
	st.EpisodeStart = time.Time{}
	st.ObservedMin = 0
	st.ObservedMax = 0
	return fx
}

// closeAlert freezes the open alert with its last in-band snapshot. A
// breaching tick never leaks into the final range or price.
func (e *Engine) closeAlert(st *models.InstrumentState, reason models.CloseReason, now time.Time) *models.AlertEvent {
	ev := e.open[st.InstrumentKey]
	ev.Status = models.StatusClosed
	ev.CloseReason = reason
	ev.ClosedAt = now
	e.log.Closed(*ev)
	logger.Info("Alert closed: %s reason=%s duration=%v range=[%.4f, %.4f]",
		st.InstrumentKey, reason, ev.Duration, ev.Range.Min, ev.Range.Max)

	delete(e.open, st.InstrumentKey)
	st.IsAlerting = false
	st.ActiveAlertID = ""

	closed := *ev
	return &closed
}

// Configure replaces the policy for one instrument, effective on the next
// tick evaluation.
func (e *Engine) Configure(key string, cfg models.AlertConfig) error {
	return e.configs.Set(key, cfg)
}

// ConfigureMany applies one policy to every listed key as a single batch.
func (e *Engine) ConfigureMany(keys []string, cfg models.AlertConfig) error {
	return e.configs.SetMany(keys, cfg)
}

// ClearAlerts empties the alert log unconditionally. Running episodes are not
// interrupted; their alerts simply stop being recorded.
func (e *Engine) ClearAlerts() {
	e.log.Clear()
}

// Alerts returns the alert history, most recent first.
func (e *Engine) Alerts() []models.AlertEvent {
	return e.log.Snapshot()
}

// Query filters and sorts the alert history without mutating it.
func (e *Engine) Query(filter alertlog.Filter, order alertlog.Sort) []models.AlertEvent {
	return e.log.Query(filter, order)
}

// InactiveInstrumentKeys returns exactly the keys with an open alert.
func (e *Engine) InactiveInstrumentKeys() []string {
	keys := make([]string, 0, len(e.open))
	for k := range e.open {
		keys = append(keys, k)
	}
	return keys
}

// Configurations returns the explicit per-instrument overrides.
func (e *Engine) Configurations() map[string]models.AlertConfig {
	return e.configs.Snapshot()
}

// DefaultConfiguration returns the policy applied to unconfigured keys.
func (e *Engine) DefaultConfiguration() models.AlertConfig {
	return e.configs.Default()
}

// LastSeen reports when the instrument last ticked, for freeze diagnostics.
func (e *Engine) LastSeen(key string) (time.Time, bool) {
	st, ok := e.states[key]
	if !ok {
		return time.Time{}, false
	}
	return st.LastTickTime, true
}

// Stats returns a copy of the diagnostic counters.
func (e *Engine) Stats() Counters {
	return e.counters
}
