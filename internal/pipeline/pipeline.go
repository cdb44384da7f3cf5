// Package pipeline wires one feed's adapter, engine, and sinks together.
// Tick processing stays strictly sequential inside Run; a mutex serializes
// the read-side API against the consumer goroutine. Feeds share no mutable
// state with each other.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/quietdesk/stillwatch/internal/alertlog"
	"github.com/quietdesk/stillwatch/internal/archive"
	"github.com/quietdesk/stillwatch/internal/engine"
	"github.com/quietdesk/stillwatch/internal/feed"
	"github.com/quietdesk/stillwatch/internal/instrumentation"
	"github.com/quietdesk/stillwatch/internal/logger"
	"github.com/quietdesk/stillwatch/internal/models"
	"github.com/quietdesk/stillwatch/internal/telegram"
)

// Pipeline is one feed's processing chain.
type Pipeline struct {
	name          string
	freezeTimeout time.Duration

	mu     sync.Mutex
	eng    *engine.Engine
	state  feed.ConnState
	client *feed.Client

	metrics  *instrumentation.Metrics
	notifier *telegram.Client // nil when notifications are disabled
	arch     *archive.Archive // nil when the audit sink is disabled
}

// New assembles a pipeline. notifier and arch may be nil.
func New(name string, client *feed.Client, eng *engine.Engine, metrics *instrumentation.Metrics, notifier *telegram.Client, arch *archive.Archive, freezeTimeout time.Duration) *Pipeline {
	return &Pipeline{
		name:          name,
		freezeTimeout: freezeTimeout,
		eng:           eng,
		state:         feed.StateDisconnected,
		client:        client,
		metrics:       metrics,
		notifier:      notifier,
		arch:          arch,
	}
}

// Name returns the feed identity.
func (p *Pipeline) Name() string { return p.name }

// Run starts the feed client and consumes its channels until ctx is
// cancelled and the feed shuts down. It is the single driver of the engine.
func (p *Pipeline) Run(ctx context.Context) {
	go p.client.Run(ctx)

	ticks := p.client.Ticks()
	events := p.client.Events()

	for ticks != nil || events != nil {
		select {
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			p.handleTick(tick)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handleEvent(ev)
		}
	}
	logger.Info("Pipeline %s: stopped", p.name)
}

func (p *Pipeline) handleTick(tick models.Tick) {
	p.mu.Lock()
	fx := p.eng.OnTick(tick)
	openCount := len(p.eng.InactiveInstrumentKeys())
	p.mu.Unlock()

	if fx.Dropped {
		p.metrics.MalformedDropped.WithLabelValues(p.name).Inc()
		return
	}
	p.metrics.TicksProcessed.WithLabelValues(p.name).Inc()
	p.metrics.OpenAlerts.WithLabelValues(p.name).Set(float64(openCount))
	if fx.OracleFailed {
		p.metrics.OracleFailures.WithLabelValues(p.name).Inc()
	}

	if fx.Opened != nil {
		p.metrics.AlertsOpened.WithLabelValues(p.name).Inc()
		if p.notifier != nil {
			alert := *fx.Opened
			go func() {
				if err := p.notifier.SendOpened(p.name, &alert); err != nil {
					logger.Warn("Pipeline %s: failed to send open notification: %v", p.name, err)
				}
			}()
		}
	}
	if fx.Closed != nil {
		p.metrics.AlertsClosed.WithLabelValues(p.name, string(fx.Closed.CloseReason)).Inc()
		if p.arch != nil {
			if err := p.arch.Append(p.name, fx.Closed); err != nil {
				logger.Warn("Pipeline %s: failed to archive alert %s: %v", p.name, fx.Closed.ID, err)
			}
		}
		if p.notifier != nil {
			alert := *fx.Closed
			go func() {
				if err := p.notifier.SendClosed(p.name, &alert); err != nil {
					logger.Warn("Pipeline %s: failed to send close notification: %v", p.name, err)
				}
			}()
		}
	}
}

func (p *Pipeline) handleEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.KindState:
		p.mu.Lock()
		p.state = ev.State
		p.mu.Unlock()
		if ev.State == feed.StateConnecting {
			p.metrics.FeedReconnects.WithLabelValues(p.name).Inc()
		}

	case feed.KindFreeze:
		p.metrics.FeedFreezes.WithLabelValues(p.name).Inc()
		if p.notifier != nil {
			go func() {
				if err := p.notifier.SendFreeze(p.name, p.freezeTimeout); err != nil {
					logger.Warn("Pipeline %s: failed to send freeze notification: %v", p.name, err)
				}
			}()
		}

	case feed.KindUnfreeze:
		if p.notifier != nil {
			go func() {
				if err := p.notifier.SendUnfreeze(p.name); err != nil {
					logger.Warn("Pipeline %s: failed to send unfreeze notification: %v", p.name, err)
				}
			}()
		}
	}
}

// ConnState returns the last observed transport state.
func (p *Pipeline) ConnState() feed.ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Alerts returns the alert history, most recent first.
func (p *Pipeline) Alerts() []models.AlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.Alerts()
}

// Query filters and sorts the alert history.
func (p *Pipeline) Query(filter alertlog.Filter, order alertlog.Sort) []models.AlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.Query(filter, order)
}

// InactiveInstrumentKeys returns the keys with an open alert.
func (p *Pipeline) InactiveInstrumentKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.InactiveInstrumentKeys()
}

// Configurations returns the explicit per-instrument overrides.
func (p *Pipeline) Configurations() map[string]models.AlertConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.Configurations()
}

// DefaultConfiguration returns the default policy.
func (p *Pipeline) DefaultConfiguration() models.AlertConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.DefaultConfiguration()
}

// Configure replaces the policy for one instrument.
func (p *Pipeline) Configure(key string, cfg models.AlertConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.Configure(key, cfg)
}

// ConfigureMany applies one policy to several instruments as a batch.
func (p *Pipeline) ConfigureMany(keys []string, cfg models.AlertConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.ConfigureMany(keys, cfg)
}

// ClearAlerts empties the alert log.
func (p *Pipeline) ClearAlerts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eng.ClearAlerts()
}

// Stats returns the engine's diagnostic counters.
func (p *Pipeline) Stats() engine.Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng.Stats()
}
