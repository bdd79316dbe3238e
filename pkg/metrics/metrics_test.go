package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)

	m.RecordBusReceived("ok")
	m.RecordBusReceived("invalid")
	m.RecordStoreLatency(5 * time.Millisecond)
	m.SetWALDepth("agent-1", 3)
	m.RecordPublishAttempt("ok", 10*time.Millisecond)
	m.RecordEventIngested("flow_event")
	m.RecordIncidentEmitted("ssh_brute_force", "high")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if body == "" {
		t.Error("Expected non-empty metrics output")
	}

	expectedMetrics := []string{
		"amoskys_bus_received_total",
		"amoskys_bus_store_latency_seconds",
		"amoskys_wal_depth",
		"amoskys_wal_publish_attempts_total",
		"amoskys_fusion_events_ingested_total",
		"amoskys_fusion_incidents_emitted_total",
	}

	for _, metric := range expectedMetrics {
		if !contains(body, metric) {
			t.Errorf("Expected metric %s not found in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestStartServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Port = 19091 // Use different port for testing

	m := NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		err := m.StartServer(ctx, cfg.Port, cfg.Path)
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19091/metrics")
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		t.Errorf("Server error: %v", err)
	case <-time.After(1 * time.Second):
	}
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()

	if m.Enabled() {
		t.Error("NoOpManager should not be enabled")
	}

	// These should not panic
	m.RecordBusReceived("ok")
	m.RecordPublishAttempt("ok", time.Second)
	m.IncBusInFlight()
	m.DecBusInFlight()
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > len(substr) &&
		(s[:len(substr)] == substr || contains(s[1:], substr)))
}

func BenchmarkRecordBusReceived(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordBusReceived("ok")
	}
}

func BenchmarkRecordPublishAttempt(b *testing.B) {
	m := NewManager(DefaultConfig())
	d := 100 * time.Millisecond
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordPublishAttempt("ok", d)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	m := NewManager(DefaultConfig())
	d := 5 * time.Millisecond
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordHTTPRequest("GET", "/api/v1/incidents", "200", d)
	}
}

func BenchmarkRecordLaneThroughput(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordThroughput("fusion-dispatch")
	}
}

func BenchmarkNoOpRecording(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordBusReceived("ok")
		m.RecordEventIngested("flow_event")
		m.RecordThroughput("fusion-dispatch")
	}
}

func TestMetricsMemoryUsage(t *testing.T) {
	m := NewManager(DefaultConfig())

	statuses := []string{"ok", "retry", "invalid", "overload"}
	methods := []string{"GET", "POST", "PUT", "DELETE"}
	paths := []string{"/api/v1/incidents", "/api/v1/incidents/:id", "/health", "/ready"}
	lanes := []string{"default", "fusion-dispatch", "batch"}

	for i := 0; i < 100000; i++ {
		m.RecordBusReceived(statuses[i%len(statuses)])
		m.RecordPublishAttempt(statuses[i%len(statuses)], time.Duration(i)*time.Microsecond)
		m.RecordHTTPRequest(methods[i%len(methods)], paths[i%len(paths)], "200", time.Duration(i)*time.Microsecond)
		m.RecordThroughput(lanes[i%len(lanes)])
		m.RecordWaitDuration(lanes[i%len(lanes)], time.Duration(i)*time.Microsecond)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after heavy load, got %d", w.Code)
	}

	body := w.Body.String()
	if len(body) > 10*1024*1024 { // 10MB sanity check
		t.Errorf("Metrics output too large: %d bytes", len(body))
	}
}
