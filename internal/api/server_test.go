package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeSquared-Agency/callwatch/internal/processor"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedStatus processor.Status

func (f fixedStatus) Status() processor.Status { return processor.Status(f) }

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8080, nil, []string{"missing TG_BOT_TOKEN"}, discard)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(8080, fixedStatus{Ticks: 3, Processed: 7, LastSkipped: map[string]int{"too_short": 1}}, nil, discard)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "callwatch" {
		t.Errorf("expected agent callwatch, got %q", body.Agent)
	}
	if !body.Ready {
		t.Error("expected ready")
	}
	if body.Loop == nil || body.Loop.Ticks != 3 || body.Loop.Processed != 7 {
		t.Errorf("unexpected loop status %+v", body.Loop)
	}
	if body.Loop.LastSkipped["too_short"] != 1 {
		t.Errorf("expected skip counts, got %v", body.Loop.LastSkipped)
	}
}

func TestStatusEndpoint_NotReady(t *testing.T) {
	srv := NewServer(8080, nil, []string{"missing OPENAI_API_KEY"}, discard)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Ready {
		t.Error("expected not ready")
	}
	if len(body.Problems) != 1 || body.Problems[0] != "missing OPENAI_API_KEY" {
		t.Errorf("unexpected problems %v", body.Problems)
	}
	if body.Loop != nil {
		t.Errorf("expected no loop status, got %+v", body.Loop)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8080, nil, nil, discard)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
