package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func resetHealth(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		critical:   []string{"listener", "scheduler"},
		startTime:  time.Now(),
		version:    version,
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("listener", true, "port 10245")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["listener"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}

	if comp.Message != "port 10245" {
		t.Errorf("expected message 'port 10245', got '%s'", comp.Message)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealth("1.0.0")

	RegisterComponent("listener", true, "")
	RegisterComponent("scheduler", true, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}

	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}

	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealth("")

	RegisterComponent("listener", true, "")
	RegisterComponent("scheduler", false, "no scheduler found")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}

	if health.Components["scheduler"] != "unhealthy: no scheduler found" {
		t.Errorf("unexpected scheduler status: %s", health.Components["scheduler"])
	}
}

func TestGetHealth_NonCriticalDegrades(t *testing.T) {
	resetHealth("")
	SetCriticalComponents("listener")

	RegisterComponent("listener", true, "")
	RegisterComponent("compiler:gcc", false, "exec: not found")

	health := GetHealth()
	if health.Status != StatusDegraded {
		t.Errorf("expected status 'degraded', got '%s'", health.Status)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 while degraded, got %d", w.Code)
	}

	RegisterComponent("listener", false, "closed")
	if GetHealth().Status != StatusUnhealthy {
		t.Error("critical failure should make the process unhealthy")
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{
			name:       "all ready",
			components: map[string]bool{"listener": true, "scheduler": true},
			want:       "ready",
		},
		{
			name:       "scheduler missing",
			components: map[string]bool{"listener": true},
			want:       "not_ready",
		},
		{
			name:       "scheduler unhealthy",
			components: map[string]bool{"listener": true, "scheduler": false},
			want:       "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			readiness := GetReadiness()
			if readiness.Status != tt.want {
				t.Errorf("expected status '%s', got '%s'", tt.want, readiness.Status)
			}
			if tt.want != "ready" && readiness.Message == "" {
				t.Error("expected message explaining why not ready")
			}
		})
	}
}

func TestSetCriticalComponents(t *testing.T) {
	resetHealth("")
	SetCriticalComponents("listener", "monitors")

	RegisterComponent("listener", true, "")
	if GetReadiness().Status != "not_ready" {
		t.Error("expected not_ready while monitors is missing")
	}

	RegisterComponent("monitors", true, "")
	if GetReadiness().Status != "ready" {
		t.Error("scheduler should no longer be required")
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth("test")
	RegisterComponent("listener", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if health.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", health.Status)
	}

	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth("")
	RegisterComponent("listener", false, "bind failed")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealth("")
	RegisterComponent("listener", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealth("")

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("scheduler", true, "ok")
	UpdateComponent("scheduler", false, "connection lost")

	comp := healthChecker.components["scheduler"]
	if comp.Healthy {
		t.Error("component should be unhealthy after update")
	}

	if comp.Message != "connection lost" {
		t.Errorf("expected message 'connection lost', got '%s'", comp.Message)
	}
}

func TestServeMuxExposesMetrics(t *testing.T) {
	resetHealth("")
	DaemonMaxKids.Set(5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	NewServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "icecc_daemon_max_kids 5") {
		t.Errorf("metrics output missing max kids gauge:\n%s", body)
	}
}
