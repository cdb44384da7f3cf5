package session

import (
	"testing"
	"time"
)

func TestParseFailPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want FailPolicy
	}{
		{in: "fail_open", want: FailOpen},
		{in: "fail_closed", want: FailClosed},
		{in: "", want: FailOpen},
		{in: "garbage", want: FailOpen},
	}
	for _, tt := range tests {
		if got := ParseFailPolicy(tt.in); got != tt.want {
			t.Errorf("ParseFailPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMicFor(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{symbol: "AAPL", want: "xnys"},
		{symbol: "VOD.L", want: "xlon"},
		{symbol: "7203.T", want: "xtks"},
		{symbol: "0700.HK", want: "xhkg"},
		{symbol: "BMW.DE", want: "xfra"},
		{symbol: "BHP.AX", want: "xasx"},
		{symbol: "weird.suffix", want: "xnys"},
		{symbol: "trailing.", want: "xnys"},
	}
	for _, tt := range tests {
		if got := micFor(tt.symbol); got != tt.want {
			t.Errorf("micFor(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestIsOpenWeekend(t *testing.T) {
	o := NewCalendarOracle()
	// Saturday, noon UTC.
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	status, err := o.IsOpen("AAPL", saturday)
	if err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if status.Open {
		t.Error("NYSE must be closed on Saturday")
	}
	if status.Session != "weekend" {
		t.Errorf("Expected session %q, got %q", "weekend", status.Session)
	}
	if status.MarketType != "XNYS" {
		t.Errorf("Expected market type XNYS, got %q", status.MarketType)
	}
}

func TestIsOpenRegularSession(t *testing.T) {
	o := NewCalendarOracle()
	// Monday 2026-03-02, 15:00 UTC is 10:00 in New York.
	monday := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	status, err := o.IsOpen("AAPL", monday)
	if err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if !status.Open {
		t.Error("NYSE must be open on a regular Monday morning")
	}
	if status.Session != "regular" {
		t.Errorf("Expected session %q, got %q", "regular", status.Session)
	}
}

func TestIsOpenOutsideHours(t *testing.T) {
	o := NewCalendarOracle()
	// Monday 2026-03-02, 08:00 UTC is 03:00 in New York.
	early := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	status, err := o.IsOpen("AAPL", early)
	if err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if status.Open {
		t.Error("NYSE must be closed at 3am local time")
	}
	if status.Session != "closed" {
		t.Errorf("Expected session %q, got %q", "closed", status.Session)
	}
}

func TestCalendarsAreCached(t *testing.T) {
	o := NewCalendarOracle()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	if _, err := o.IsOpen("AAPL", at); err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if _, err := o.IsOpen("MSFT", at); err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if len(o.calendars) != 1 {
		t.Errorf("Expected one cached calendar for shared MIC, got %d", len(o.calendars))
	}

	if _, err := o.IsOpen("VOD.L", at); err != nil {
		t.Fatalf("IsOpen failed: %v", err)
	}
	if len(o.calendars) != 2 {
		t.Errorf("Expected second calendar after new MIC, got %d", len(o.calendars))
	}
}
