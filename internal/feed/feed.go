// Package feed streams normalized ticks from a websocket market-data feed.
// It owns reconnection with capped exponential backoff and connection-level
// freeze detection; the engine downstream never sees transport concerns.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quietdesk/stillwatch/internal/logger"
	"github.com/quietdesk/stillwatch/internal/models"
)

// ConnState is the transport connection state.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
	StateDisconnected ConnState = "disconnected"
)

// EventKind distinguishes feed-level events on the events channel.
type EventKind string

const (
	// KindState reports a connection-state transition.
	KindState EventKind = "state"
	// KindFreeze fires when no message of any kind arrived for the freeze
	// timeout. Orthogonal to per-instrument inactivity.
	KindFreeze EventKind = "freeze"
	// KindUnfreeze fires on the first message after a freeze.
	KindUnfreeze EventKind = "unfreeze"
)

// Event is a feed-level notification: state change or freeze transition.
type Event struct {
	Feed  string
	Kind  EventKind
	State ConnState
	Err   error
	At    time.Time
}

// Options configures one feed client.
type Options struct {
	Name          string
	URL           string
	FreezeTimeout time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
}

// Client is a reconnecting websocket tick source. Ticks are delivered on a
// single channel in arrival order; feed events on a second channel.
type Client struct {
	opts   Options
	ticks  chan models.Tick
	events chan Event
	now    func() time.Time
}

// NewClient creates a feed client. Run must be called to start streaming.
func NewClient(opts Options) *Client {
	if opts.FreezeTimeout <= 0 {
		opts.FreezeTimeout = 10 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		ticks:  make(chan models.Tick, 256),
		events: make(chan Event, 32),
		now:    time.Now,
	}
}

// Ticks returns the normalized tick stream, closed when Run returns.
func (c *Client) Ticks() <-chan models.Tick { return c.ticks }

// Events returns connection-state and freeze events, closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// wireTick is the feed frame format before normalization.
type wireTick struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"qty"`
	Volume   float64 `json:"volume"`
	TsMillis int64   `json:"ts"`
}

// normalize converts a wire frame into an immutable Tick stamped with the
// local ingestion clock.
func normalize(data []byte, received time.Time) (models.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Tick{}, fmt.Errorf("failed to decode tick frame: %w", err)
	}
	return models.Tick{
		InstrumentKey: w.Symbol,
		Price:         w.Price,
		Quantity:      w.Quantity,
		Volume:        w.Volume,
		EventTime:     time.UnixMilli(w.TsMillis),
		ReceivedTime:  received,
	}, nil
}

func (c *Client) emit(ev Event) {
	ev.Feed = c.opts.Name
	ev.At = c.now()
	select {
	case c.events <- ev:
	default:
		logger.Warn("Feed %s: event channel full, dropping %s event", c.opts.Name, ev.Kind)
	}
}

// Run streams until ctx is cancelled, reconnecting on any transport error.
// It closes both channels on return.
func (c *Client) Run(ctx context.Context) {
	defer close(c.ticks)
	defer close(c.events)

	backoff := c.opts.ReconnectMin
	for {
		if ctx.Err() != nil {
			c.emit(Event{Kind: KindState, State: StateDisconnected})
			return
		}

		c.emit(Event{Kind: KindState, State: StateConnecting})
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			c.emit(Event{Kind: KindState, State: StateError, Err: err})
			logger.Warn("Feed %s: dial %s failed: %v (retrying in %v)", c.opts.Name, c.opts.URL, err, backoff)
			select {
			case <-ctx.Done():
				c.emit(Event{Kind: KindState, State: StateDisconnected})
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.ReconnectMax)
			continue
		}

		c.emit(Event{Kind: KindState, State: StateConnected})
		logger.Info("Feed %s: connected to %s", c.opts.Name, c.opts.URL)
		backoff = c.opts.ReconnectMin

		err = c.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.emit(Event{Kind: KindState, State: StateDisconnected})
			return
		}
		c.emit(Event{Kind: KindState, State: StateError, Err: err})
		logger.Warn("Feed %s: connection lost: %v", c.opts.Name, err)
	}
}

// readLoop reads frames until the connection drops or ctx is cancelled. The
// freeze watchdog resets on every frame regardless of content.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame, 1)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			select {
			case frames <- frame{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	watchdog := time.NewTimer(c.opts.FreezeTimeout)
	defer watchdog.Stop()
	frozen := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-watchdog.C:
			if !frozen {
				frozen = true
				c.emit(Event{Kind: KindFreeze})
				logger.Warn("Feed %s: no messages for %v, feed frozen", c.opts.Name, c.opts.FreezeTimeout)
			}
			watchdog.Reset(c.opts.FreezeTimeout)

		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("reader stopped")
			}
			if f.err != nil {
				return f.err
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(c.opts.FreezeTimeout)
			if frozen {
				frozen = false
				c.emit(Event{Kind: KindUnfreeze})
				logger.Info("Feed %s: messages resumed", c.opts.Name)
			}

			tick, err := normalize(f.data, c.now())
			if err != nil {
				logger.Debug("Feed %s: %v", c.opts.Name, err)
				continue
			}
			select {
			case c.ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
