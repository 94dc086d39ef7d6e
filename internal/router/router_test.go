package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testRouter() *Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(NewMemoryStateStore(time.Minute), nil, logger)
}

func markerHandler(name string) HandlerFunc {
	return func(_ context.Context, evt Event) (Result, error) {
		return Result{Reply: name + ":" + evt.Arg}, nil
	}
}

func TestRouteLongestPrefixWins(t *testing.T) {
	r := testRouter()
	r.Handle("payment.crypto.", markerHandler("generic"))
	r.Handle("payment.crypto.switch_", markerHandler("switch"))
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	res, err := r.Route(context.Background(), Event{Action: "payment.crypto.switch_btc"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Reply != "switch:btc" {
		t.Fatalf("expected the more specific handler with arg btc, got %q", res.Reply)
	}

	res, err = r.Route(context.Background(), Event{Action: "payment.crypto.select_eth"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Reply != "generic:select_eth" {
		t.Fatalf("expected the generic handler, got %q", res.Reply)
	}
}

func TestRouteDeterministicAcrossRegistrationOrder(t *testing.T) {
	// register in the opposite order and expect identical dispatch
	r := testRouter()
	r.Handle("payment.crypto.switch_", markerHandler("switch"))
	r.Handle("payment.crypto.", markerHandler("generic"))
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	res, err := r.Route(context.Background(), Event{Action: "payment.crypto.switch_btc"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Reply != "switch:btc" {
		t.Fatalf("expected the more specific handler, got %q", res.Reply)
	}
}

func TestRouteUnknownAction(t *testing.T) {
	r := testRouter()
	r.Handle("menu.main", markerHandler("menu"))
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	_, err := r.Route(context.Background(), Event{Action: "mystery.button"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestValidateRejectsBadTables(t *testing.T) {
	r := testRouter()
	r.Handle("menu.main", markerHandler("a"))
	r.Handle("menu.main", markerHandler("b"))
	if err := r.Validate(); err == nil {
		t.Fatal("expected duplicate prefix to fail validation")
	}

	r = testRouter()
	r.Handle("plain", markerHandler("a"))
	if err := r.Validate(); err == nil {
		t.Fatal("expected non-namespaced prefix to fail validation")
	}

	r = testRouter()
	r.Handle("", markerHandler("a"))
	if err := r.Validate(); err == nil {
		t.Fatal("expected empty prefix to fail validation")
	}
}

func TestHandleAfterValidatePanics(t *testing.T) {
	r := testRouter()
	r.Handle("menu.main", markerHandler("a"))
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on late registration")
		}
	}()
	r.Handle("menu.other", markerHandler("b"))
}

func TestRouteTextDispatchesCaptureState(t *testing.T) {
	ctx := context.Background()
	r := testRouter()
	r.Capture("awaiting_email", func(_ context.Context, evt Event) (Result, error) {
		return Result{Reply: "email:" + evt.Text}, nil
	})
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := r.States().Set(ctx, 42, UserState{Step: "awaiting_email"}); err != nil {
		t.Fatalf("set state: %v", err)
	}

	res, err := r.RouteText(ctx, Event{UserID: 42, Text: "user@example.com"})
	if err != nil {
		t.Fatalf("route text: %v", err)
	}
	if res.Reply != "email:user@example.com" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
}

func TestRouteTextWithoutState(t *testing.T) {
	r := testRouter()
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	_, err := r.RouteText(context.Background(), Event{UserID: 7, Text: "hello"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}
