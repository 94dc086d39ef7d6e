package registrar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL:  baseURL,
		Username: "user",
		Password: "pass",
		Retry:    fastRetry(),
	}, testLogger(), nil)
}

func TestAuthenticateInvalidCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"desc":"bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestAuthenticateCachesToken(t *testing.T) {
	var authCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/auth/login" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		authCalls.Add(1)
		fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		token, err := c.Authenticate(context.Background())
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("expected tok-1, got %s", token)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Fatalf("expected a single auth call, got %d", got)
	}
}

func TestCheckDomainRetriesServerErrors(t *testing.T) {
	var checkCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/auth/login":
			fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
		case "/v1beta/domains/check":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				t.Fatalf("missing bearer token, got %q", r.Header.Get("Authorization"))
			}
			if checkCalls.Add(1) == 1 {
				http.Error(w, "upstream hiccup", http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"data":{"results":[{"domain":"example.com","status":"free","price":{"reseller":{"price":15,"currency":"USD"}}}]}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	available, price, err := c.CheckDomain(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("check domain: %v", err)
	}
	if !available {
		t.Fatal("expected domain available")
	}
	if price.StringFixed(2) != "15.00" {
		t.Fatalf("expected base price 15.00, got %s", price.StringFixed(2))
	}
	if got := checkCalls.Load(); got != 2 {
		t.Fatalf("expected retry after 502, got %d calls", got)
	}
}

func TestCheckDomainTakenDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/auth/login":
			fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
		default:
			fmt.Fprint(w, `{"data":{"results":[{"domain":"taken.com","status":"active","price":{"reseller":{"price":15,"currency":"USD"}}}]}}`)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	available, _, err := c.CheckDomain(context.Background(), "taken.com")
	if err != nil {
		t.Fatalf("check domain: %v", err)
	}
	if available {
		t.Fatal("expected domain unavailable")
	}
}

func TestRegisterDomainReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/auth/login":
			fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
		case "/v1beta/domains":
			fmt.Fprint(w, `{"data":{"id":987654}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, err := c.RegisterDomain(context.Background(), "example.com", "handle-1", []string{"ns1.example.net"})
	if err != nil {
		t.Fatalf("register domain: %v", err)
	}
	if id != "987654" {
		t.Fatalf("expected registration id 987654, got %s", id)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1beta/auth/login":
			fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
		default:
			calls.Add(1)
			http.Error(w, `{"desc":"validation failed"}`, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, err := c.CheckDomain(context.Background(), "bad.com")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected no retries on 400, got %d calls", got)
	}
}
