package statusapi

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"metaserve/internal/registry"
)

func TestHandleHealth(t *testing.T) {
	s := New(registry.New(nil), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHandleRegistryReportsCounts(t *testing.T) {
	reg := registry.New(nil)
	sid := reg.InsertServer()
	reg.UpdateServer(sid, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, []byte("x"))
	reg.InsertClient()
	reg.InsertClient()

	s := New(reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/registry", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var body registryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Servers != 1 || body.Clients != 2 {
		t.Errorf("got %+v, want servers=1 clients=2", body)
	}
}

func TestHandleRegistryNeverLeaksState(t *testing.T) {
	reg := registry.New(nil)
	sid := reg.InsertServer()
	reg.UpdateServer(sid, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, []byte("super-secret-state"))

	s := New(reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/registry", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "super-secret-state") {
		t.Error("status api must never echo opaque server state")
	}
}
