package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func TestHealthCheckerHealthy(t *testing.T) {
	checker := NewHealthChecker(&fakePinger{}, nil, "1.0.0")

	w := httptest.NewRecorder()
	checker.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("store check = %q", resp.Checks["store"])
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Version = %q", resp.Version)
	}
}

func TestHealthCheckerUnreachableStore(t *testing.T) {
	checker := NewHealthChecker(&fakePinger{err: errors.New("database is locked")}, nil, "")

	w := httptest.NewRecorder()
	checker.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Status = %q", resp.Status)
	}
}

func TestHealthCheckerNoComponents(t *testing.T) {
	resp := NewHealthChecker(nil, nil, "").Check(context.Background())
	if resp.Status != "healthy" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Checks["store"] != "not configured" {
		t.Errorf("store check = %q", resp.Checks["store"])
	}
}
