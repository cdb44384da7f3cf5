package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quietdesk/stillwatch/internal/alertcfg"
	"github.com/quietdesk/stillwatch/internal/alertlog"
	"github.com/quietdesk/stillwatch/internal/engine"
	"github.com/quietdesk/stillwatch/internal/feed"
	"github.com/quietdesk/stillwatch/internal/instrumentation"
	"github.com/quietdesk/stillwatch/internal/models"
	"github.com/quietdesk/stillwatch/internal/pipeline"
	"github.com/quietdesk/stillwatch/internal/resolve"
	"github.com/quietdesk/stillwatch/internal/session"
)

type openOracle struct{}

func (openOracle) IsOpen(string, time.Time) (session.Status, error) {
	return session.Status{Open: true, Session: "regular", MarketType: "XNYS"}, nil
}

// newTestServer builds a server over two pipelines. The primary feed's engine
// is pre-fed so that AAPL holds an open alert.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	metrics := instrumentation.NewWith(prometheus.NewRegistry())
	resolver := resolve.NewTable(map[string]resolve.Entry{
		"AAPL": {Name: "Apple Inc.", Exchange: "NASDAQ"},
	})

	newEngine := func() *engine.Engine {
		store, err := alertcfg.New(models.AlertConfig{Enabled: true, Deviation: 0.5, Duration: 30 * time.Second})
		if err != nil {
			t.Fatalf("Failed to create config store: %v", err)
		}
		return engine.New(store, alertlog.New(50), openOracle{}, session.FailOpen, resolver)
	}

	primary := newEngine()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, price := range []float64{100.0, 100.1, 100.2} {
		at := t0.Add(time.Duration(i) * 20 * time.Second)
		primary.OnTick(models.Tick{
			InstrumentKey: "AAPL", Price: price, Quantity: 1, Volume: 100,
			EventTime: at, ReceivedTime: at,
		})
	}

	newPipeline := func(name string, eng *engine.Engine) *pipeline.Pipeline {
		client := feed.NewClient(feed.Options{Name: name, URL: "ws://unused.invalid/ticks"})
		return pipeline.New(name, client, eng, metrics, nil, nil, 10*time.Second)
	}

	s := New([]*pipeline.Pipeline{
		newPipeline("primary", primary),
		newPipeline("secondary", newEngine()),
	})
	return s.Router()
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var out struct {
		Status string `json:"status"`
		Feeds  []struct {
			Feed  string `json:"feed"`
			State string `json:"state"`
		} `json:"feeds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Status != "ok" || len(out.Feeds) != 2 {
		t.Errorf("Unexpected health payload: %+v", out)
	}
	if out.Feeds[0].Feed != "primary" || out.Feeds[1].Feed != "secondary" {
		t.Errorf("Feed order must be preserved: %+v", out.Feeds)
	}
}

func TestUnknownFeedIs404(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/api/feeds/nope/alerts", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestAlertsPerFeed(t *testing.T) {
	router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/feeds/primary/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var alerts []models.AlertEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert on primary, got %d", len(alerts))
	}
	if alerts[0].InstrumentKey != "AAPL" || alerts[0].Status != models.StatusOpen {
		t.Errorf("Unexpected alert: %+v", alerts[0])
	}

	// Filters pass through to the alert log.
	rec = do(t, router, http.MethodGet, "/api/feeds/primary/alerts?q=toyota", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("Expected no alerts for non-matching filter, got %d", len(alerts))
	}

	rec = do(t, router, http.MethodGet, "/api/feeds/secondary/alerts", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("Secondary feed must be isolated, got %d alerts", len(alerts))
	}
}

func TestAllAlertsAcrossFeeds(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/api/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var out []struct {
		Feed   string              `json:"feed"`
		Alerts []models.AlertEvent `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected both feeds in the unified view, got %d", len(out))
	}
	if out[0].Feed != "primary" || len(out[0].Alerts) != 1 {
		t.Errorf("Unexpected primary section: %+v", out[0])
	}
	if out[1].Feed != "secondary" || len(out[1].Alerts) != 0 {
		t.Errorf("Unexpected secondary section: %+v", out[1])
	}
}

func TestInactiveKeys(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/api/feeds/primary/inactive", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var keys []string
	if err := json.Unmarshal(rec.Body.Bytes(), &keys); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(keys) != 1 || keys[0] != "AAPL" {
		t.Errorf("Expected [AAPL], got %v", keys)
	}

	rec = do(t, router, http.MethodGet, "/api/feeds/secondary/inactive", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("Empty inactive list must encode as [], got %s", body)
	}
}

func TestClearAlerts(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodDelete, "/api/feeds/primary/alerts", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/api/feeds/primary/alerts", "")
	var alerts []models.AlertEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("Expected empty log after clear, got %d alerts", len(alerts))
	}
}

func TestSetConfig(t *testing.T) {
	router := newTestServer(t)

	body := `{"enabled":true,"deviation":0.1,"duration_seconds":60,"respect_market_hours":false}`
	rec := do(t, router, http.MethodPut, "/api/feeds/primary/configs/MSFT", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/feeds/primary/configs", "")
	var out struct {
		Default   policyDTO            `json:"default"`
		Overrides map[string]policyDTO `json:"overrides"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	got, ok := out.Overrides["MSFT"]
	if !ok {
		t.Fatalf("Expected MSFT override, got %v", out.Overrides)
	}
	if got.Deviation != 0.1 || got.DurationSeconds != 60 {
		t.Errorf("Unexpected stored config: %+v", got)
	}
	if out.Default.Deviation != 0.5 {
		t.Errorf("Default must be unchanged: %+v", out.Default)
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	router := newTestServer(t)

	rec := do(t, router, http.MethodPut, "/api/feeds/primary/configs/MSFT",
		`{"enabled":true,"deviation":-1,"duration_seconds":60}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for invalid policy, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPut, "/api/feeds/primary/configs/MSFT", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestSetConfigsBulk(t *testing.T) {
	router := newTestServer(t)

	body := `{"keys":["AAPL","MSFT"],"config":{"enabled":false,"deviation":0.3,"duration_seconds":45}}`
	rec := do(t, router, http.MethodPost, "/api/feeds/primary/configs", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/feeds/primary/configs", "")
	var out struct {
		Overrides map[string]policyDTO `json:"overrides"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, key := range []string{"AAPL", "MSFT"} {
		cfg, ok := out.Overrides[key]
		if !ok {
			t.Fatalf("Expected override for %s", key)
		}
		if cfg.Enabled || cfg.Deviation != 0.3 || cfg.DurationSeconds != 45 {
			t.Errorf("Key %s: unexpected config %+v", key, cfg)
		}
	}

	rec = do(t, router, http.MethodPost, "/api/feeds/primary/configs",
		`{"keys":[],"config":{"enabled":true,"deviation":0.3,"duration_seconds":45}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty key list, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/api/feeds/primary/configs",
		`{"keys":["AAPL"],"config":{"enabled":true,"deviation":0,"duration_seconds":45}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for invalid bulk policy, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t)
	rec := do(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
}
