// Package session answers whether an instrument's market is open at a given
// time, backed by exchange trading calendars (ISO 10383 MIC codes).
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Status is the oracle's answer for one instrument at one point in time.
type Status struct {
	Open       bool   `json:"is_open"`
	Session    string `json:"session"`
	MarketType string `json:"market_type"`
}

// Oracle reports market-session state. Implementations must be pure and safe
// to call once per tick per instrument; callers do not memoize results.
type Oracle interface {
	IsOpen(instrument string, t time.Time) (Status, error)
}

// FailPolicy decides how the engine treats an oracle failure.
type FailPolicy string

const (
	// FailOpen treats the market as open on oracle failure so that an
	// unrelated outage cannot mask real inactivity.
	FailOpen FailPolicy = "fail_open"
	// FailClosed suppresses evaluation on oracle failure.
	FailClosed FailPolicy = "fail_closed"
)

// ParseFailPolicy maps a config string to a FailPolicy, defaulting to
// FailOpen for unknown values.
func ParseFailPolicy(s string) FailPolicy {
	if s == string(FailClosed) {
		return FailClosed
	}
	return FailOpen
}

// micBySymbolSuffix maps the exchange suffix of a symbol to its MIC code.
// Symbols without a recognized suffix default to XNYS.
var micBySymbolSuffix = map[string]string{
	"L":  "xlon",
	"PA": "xpar",
	"DE": "xfra",
	"AS": "xams",
	"BR": "xbru",
	"MI": "xmil",
	"MC": "xmad",
	"ST": "xsto",
	"CO": "xcse",
	"HE": "xhel",
	"SW": "xswx",
	"TO": "xtse",
	"T":  "xtks",
	"HK": "xhkg",
	"AX": "xasx",
	"KS": "xkrx",
	"SS": "xshg",
	"SZ": "xshe",
}

const defaultMIC = "xnys"

// CalendarOracle resolves sessions through scmhub/calendar. Calendars are
// looked up once per MIC and reused; session answers themselves are computed
// fresh on every call.
type CalendarOracle struct {
	calendars map[string]*calendar.Calendar
}

// NewCalendarOracle creates an oracle with an empty calendar cache.
func NewCalendarOracle() *CalendarOracle {
	return &CalendarOracle{calendars: make(map[string]*calendar.Calendar)}
}

// micFor extracts the exchange MIC from the instrument symbol suffix.
func micFor(instrument string) string {
	if i := strings.LastIndex(instrument, "."); i >= 0 {
		if mic, ok := micBySymbolSuffix[instrument[i+1:]]; ok {
			return mic
		}
	}
	return defaultMIC
}

func (o *CalendarOracle) calendarFor(mic string) (*calendar.Calendar, error) {
	if c, ok := o.calendars[mic]; ok {
		return c, nil
	}
	c := calendar.GetCalendar(mic)
	if c == nil {
		c = calendar.GetCalendar(defaultMIC)
	}
	if c == nil {
		return nil, fmt.Errorf("no trading calendar for MIC %q", mic)
	}
	o.calendars[mic] = c
	return c, nil
}

// IsOpen reports whether the instrument's exchange is in a regular trading
// session at t.
func (o *CalendarOracle) IsOpen(instrument string, t time.Time) (Status, error) {
	mic := micFor(instrument)
	cal, err := o.calendarFor(mic)
	if err != nil {
		return Status{}, err
	}

	marketType := strings.ToUpper(mic)
	local := t.In(cal.Loc)

	if !cal.IsBusinessDay(local) {
		label := "holiday"
		wd := local.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			label = "weekend"
		}
		return Status{Open: false, Session: label, MarketType: marketType}, nil
	}
	if cal.IsOpen(local) {
		return Status{Open: true, Session: "regular", MarketType: marketType}, nil
	}
	return Status{Open: false, Session: "closed", MarketType: marketType}, nil
}
