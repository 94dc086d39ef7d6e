package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nomadly/internal/watch"
)

func testServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	daemon := watch.New(nil, nil, nil, logger, watch.Config{})
	return New(":0", logger, nil, daemon, "")
}

func TestBlockBeeCallbackAcknowledges(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/blockbee?coin=btc&address_in=bc1qexample&txid_in=tx-1&value_coin=0.5&confirmations=2", nil)
	rec := httptest.NewRecorder()
	s.handleBlockBeeCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// unmatched pushes are still acknowledged so the provider stops retrying
	if body := rec.Body.String(); body != "*ok*" {
		t.Fatalf("expected *ok* body, got %q", body)
	}
}

func TestBlockBeeCallbackRejectsBadInput(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/webhook/blockbee?coin=btc", nil)
	rec := httptest.NewRecorder()
	s.handleBlockBeeCallback(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing params, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhook/blockbee?coin=btc&address_in=a&txid_in=t&value_coin=abc", nil)
	rec = httptest.NewRecorder()
	s.handleBlockBeeCallback(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad value_coin, got %d", rec.Code)
	}
}

func TestWatchStatusReportsDaemon(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/admin/watch-status", nil)
	rec := httptest.NewRecorder()
	s.handleWatchStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "active_watches") {
		t.Fatalf("expected status json, got %q", rec.Body.String())
	}
}

func TestMountWithBasePath(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
	h := mountWithBasePath("/bot", inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/healthz", nil))
	if rec.Body.String() != "/healthz" {
		t.Fatalf("expected trimmed path /healthz, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botling", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for partial prefix, got %d", rec.Code)
	}
}

func TestNormaliseBasePath(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"bot":   "/bot",
		"/bot":  "/bot",
		"/bot/": "/bot",
	}
	for in, want := range cases {
		if got := normaliseBasePath(in); got != want {
			t.Fatalf("normaliseBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
