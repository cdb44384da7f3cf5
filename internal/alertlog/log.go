// Package alertlog keeps a bounded, most-recent-first history of alert
// events. Open entries are mutated in place on every in-band tick; closed
// entries are frozen and eventually evicted oldest-first.
package alertlog

import (
	"sort"
	"strings"

	"github.com/quietdesk/stillwatch/internal/models"
)

// DefaultCapacity bounds the log when no explicit capacity is configured.
const DefaultCapacity = 50

// Log is an append-only list with in-place mutation of its open entries.
// Not safe for concurrent use; the owning pipeline serializes access.
type Log struct {
	capacity int
	entries  []*models.AlertEvent // index 0 is the most recent
	open     map[string]*models.AlertEvent
}

// New creates a log bounded to the given capacity.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		open:     make(map[string]*models.AlertEvent),
	}
}

// Opened prepends a new open entry and evicts over capacity.
func (l *Log) Opened(event models.AlertEvent) {
	e := event
	l.entries = append([]*models.AlertEvent{&e}, l.entries...)
	l.open[e.ID] = &e
	l.evict()
}

// Updated mutates the matching open entry in place. Updates for unknown or
// already-closed ids are ignored, which covers entries evicted under
// capacity pressure.
func (l *Log) Updated(event models.AlertEvent) {
	e, ok := l.open[event.ID]
	if !ok {
		return
	}
	e.CurrentPrice = event.CurrentPrice
	e.Range = event.Range
	e.Duration = event.Duration
}

// Closed freezes the matching entry with its final snapshot.
func (l *Log) Closed(event models.AlertEvent) {
	e, ok := l.open[event.ID]
	if !ok {
		return
	}
	*e = event
	e.Status = models.StatusClosed
	delete(l.open, event.ID)
}

// evict drops entries beyond capacity: the closed entry with the earliest
// close time goes first. Only when every entry is still open does the oldest
// open one go instead.
func (l *Log) evict() {
	for len(l.entries) > l.capacity {
		idx := -1
		for i, e := range l.entries {
			if e.Status != models.StatusClosed {
				continue
			}
			if idx == -1 || e.ClosedAt.Before(l.entries[idx].ClosedAt) {
				idx = i
			}
		}
		if idx >= 0 {
			l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
			continue
		}
		oldest := l.entries[len(l.entries)-1]
		delete(l.open, oldest.ID)
		l.entries = l.entries[:len(l.entries)-1]
	}
}

// Clear empties the log unconditionally.
func (l *Log) Clear() {
	l.entries = nil
	l.open = make(map[string]*models.AlertEvent)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Snapshot returns copies of all entries, most recent first. Reads never
// mutate log state.
func (l *Log) Snapshot() []models.AlertEvent {
	out := make([]models.AlertEvent, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// SortField selects the sort key for Query.
type SortField string

const (
	SortByTimestamp  SortField = "timestamp"
	SortByInstrument SortField = "instrument"
	SortByBaseline   SortField = "baseline"
	SortByCurrent    SortField = "current"
	SortByDuration   SortField = "duration"
	SortBySeverity   SortField = "severity"
)

// Filter narrows a query. Zero values match everything.
type Filter struct {
	Severity models.Severity
	Text     string // case-insensitive substring over name and key
	Status   models.AlertStatus
}

// Sort orders a query result.
type Sort struct {
	Field      SortField
	Descending bool
}

var severityRank = map[models.Severity]int{
	models.SeverityLow:    0,
	models.SeverityMedium: 1,
	models.SeverityHigh:   2,
}

// Query filters and sorts a snapshot of the current entries. It is a pure
// read over copies; repeated calls without intervening writes return
// identical results.
func (l *Log) Query(filter Filter, order Sort) []models.AlertEvent {
	text := strings.ToLower(filter.Text)

	out := make([]models.AlertEvent, 0, len(l.entries))
	for _, e := range l.entries {
		if filter.Severity != "" && e.SeverityOf() != filter.Severity {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(e.InstrumentName), text) &&
			!strings.Contains(strings.ToLower(e.InstrumentKey), text) {
			continue
		}
		out = append(out, *e)
	}

	if order.Field == "" {
		return out
	}

	less := func(a, b *models.AlertEvent) bool {
		switch order.Field {
		case SortByInstrument:
			return a.InstrumentName < b.InstrumentName
		case SortByBaseline:
			return a.BaselinePrice < b.BaselinePrice
		case SortByCurrent:
			return a.CurrentPrice < b.CurrentPrice
		case SortByDuration:
			return a.Duration < b.Duration
		case SortBySeverity:
			return severityRank[a.SeverityOf()] < severityRank[b.SeverityOf()]
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order.Descending {
			return less(&out[j], &out[i])
		}
		return less(&out[i], &out[j])
	})
	return out
}
