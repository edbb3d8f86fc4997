package liveness

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHealthzReportsConnectionState(t *testing.T) {
	srv := New("127.0.0.1:0", func() string { return "open" }, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["connection"] != "open" || payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRootBanner(t *testing.T) {
	srv := New("127.0.0.1:0", func() string { return "idle" }, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != 200 || rec.Body.Len() == 0 {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}
