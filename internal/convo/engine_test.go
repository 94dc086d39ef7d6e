package convo

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"nomadly/internal/order"
	"nomadly/internal/repo"
	"nomadly/internal/router"

	"github.com/shopspring/decimal"
)

func TestFriendlyReplyMapsErrorTaxonomy(t *testing.T) {
	vErr := fmt.Errorf("wrap: %w", &order.ValidationError{Field: "email", Reason: "malformed email address"})
	if got := friendlyReply(vErr); !strings.Contains(got, "email") {
		t.Fatalf("validation reply should name the field, got %q", got)
	}

	if got := friendlyReply(order.ErrDuplicateOrder); !strings.Contains(got, "open order") {
		t.Fatalf("unexpected duplicate reply %q", got)
	}
	if got := friendlyReply(order.ErrOrderClosed); !strings.Contains(got, "/start") {
		t.Fatalf("closed-order reply should point at /start, got %q", got)
	}
	if got := friendlyReply(router.ErrUnknownAction); !strings.Contains(got, "didn't understand") {
		t.Fatalf("unexpected unknown-action reply %q", got)
	}
	if got := friendlyReply(errors.New("pgx: connection refused")); strings.Contains(got, "pgx") {
		t.Fatalf("internal error detail leaked to user: %q", got)
	}
}

func TestCallbackURL(t *testing.T) {
	e := &Engine{cfg: EngineConfig{PublicBaseURL: "https://bot.example/"}}
	got := e.callbackURL("ord-1")
	if got != "https://bot.example/webhook/blockbee?order_id=ord-1" {
		t.Fatalf("unexpected callback url %q", got)
	}

	e = &Engine{}
	if e.callbackURL("ord-1") != "" {
		t.Fatal("expected empty callback url without a public base url")
	}
}

func TestPaymentInstructionsOfferOtherCoins(t *testing.T) {
	ord := &repo.Order{ID: "ord-1", Domain: "example.com"}
	res := paymentInstructions(ord, "btc", "bc1qexample", decimal.RequireFromString("0.0015"), 24*time.Hour)

	if !strings.Contains(res.Reply, "bc1qexample") || !strings.Contains(res.Reply, "BTC") {
		t.Fatalf("instructions missing address or coin: %q", res.Reply)
	}

	for _, row := range res.Buttons {
		for _, b := range row {
			if b.Action == "payment.crypto.switch_btc" {
				t.Fatal("active coin must not be offered as a switch target")
			}
		}
	}

	var switches int
	for _, row := range res.Buttons {
		for _, b := range row {
			if strings.HasPrefix(b.Action, "payment.crypto.switch_") {
				switches++
			}
		}
	}
	if switches != len(order.CryptoCodes())-1 {
		t.Fatalf("expected %d switch buttons, got %d", len(order.CryptoCodes())-1, switches)
	}
}

func TestRegistrationCompleteTextListsCustomNameservers(t *testing.T) {
	mode := order.DNSModeCustom
	ord := &repo.Order{
		Domain:      "example.com",
		DNSMode:     &mode,
		Nameservers: []string{"ns1.example.net", "ns2.example.net"},
	}
	got := registrationCompleteText(ord)
	if !strings.Contains(got, "ns1.example.net, ns2.example.net") {
		t.Fatalf("expected delegation list, got %q", got)
	}

	managed := order.DNSModeManaged
	ord.DNSMode = &managed
	if strings.Contains(registrationCompleteText(ord), "Delegated") {
		t.Fatal("managed dns must not print a delegation list")
	}
}
