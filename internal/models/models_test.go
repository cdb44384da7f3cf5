package models

import (
	"math"
	"testing"
	"time"
)

func TestTickValidate(t *testing.T) {
	now := time.Now()
	valid := Tick{InstrumentKey: "AAPL", Price: 101.5, Quantity: 10, Volume: 1000, EventTime: now, ReceivedTime: now}

	tests := []struct {
		name    string
		mutate  func(*Tick)
		wantErr bool
	}{
		{name: "valid tick", mutate: func(*Tick) {}, wantErr: false},
		{name: "empty key", mutate: func(tk *Tick) { tk.InstrumentKey = "" }, wantErr: true},
		{name: "zero price", mutate: func(tk *Tick) { tk.Price = 0 }, wantErr: true},
		{name: "negative price", mutate: func(tk *Tick) { tk.Price = -3.2 }, wantErr: true},
		{name: "NaN price", mutate: func(tk *Tick) { tk.Price = math.NaN() }, wantErr: true},
		{name: "positive infinity", mutate: func(tk *Tick) { tk.Price = math.Inf(1) }, wantErr: true},
		{name: "negative infinity", mutate: func(tk *Tick) { tk.Price = math.Inf(-1) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := valid
			tt.mutate(&tk)
			err := tk.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		name      string
		rng       PriceRange
		deviation float64
		want      Severity
	}{
		{name: "tight cluster is high", rng: PriceRange{Min: 100.0, Max: 100.2}, deviation: 0.5, want: SeverityHigh},
		{name: "just under half band is high", rng: PriceRange{Min: 100.0, Max: 100.24}, deviation: 0.5, want: SeverityHigh},
		{name: "half band is medium", rng: PriceRange{Min: 100.0, Max: 100.25}, deviation: 0.5, want: SeverityMedium},
		{name: "just under 80 percent is medium", rng: PriceRange{Min: 100.0, Max: 100.39}, deviation: 0.5, want: SeverityMedium},
		{name: "80 percent of band is low", rng: PriceRange{Min: 100.0, Max: 100.4}, deviation: 0.5, want: SeverityLow},
		{name: "full band is low", rng: PriceRange{Min: 99.5, Max: 100.5}, deviation: 0.5, want: SeverityLow},
		{name: "single price is high", rng: PriceRange{Min: 100.0, Max: 100.0}, deviation: 0.5, want: SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AlertEvent{Range: tt.rng, Deviation: tt.deviation}
			if got := a.SeverityOf(); got != tt.want {
				t.Errorf("SeverityOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
