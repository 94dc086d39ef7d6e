package order

import "testing"

func TestValidDomain(t *testing.T) {
	valid := []string{"example.com", "sub.example.co.uk", "a-b.io", "Example.COM"}
	for _, d := range valid {
		if !ValidDomain(d) {
			t.Fatalf("expected %q valid", d)
		}
	}

	invalid := []string{"", "example", "-bad.com", "bad-.com", "ex ample.com", ".com"}
	for _, d := range invalid {
		if ValidDomain(d) {
			t.Fatalf("expected %q invalid", d)
		}
	}
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("user@example.com") {
		t.Fatal("expected valid email")
	}
	for _, e := range []string{"", "user", "user@", "@example.com", "a b@c.io"} {
		if ValidEmail(e) {
			t.Fatalf("expected %q invalid", e)
		}
	}
}

func TestValidNameserver(t *testing.T) {
	if !ValidNameserver("ns1.example.net") {
		t.Fatal("expected valid nameserver")
	}
	if ValidNameserver("not a host") {
		t.Fatal("expected invalid nameserver")
	}
}

func TestSupportedCrypto(t *testing.T) {
	code, ok := SupportedCrypto(" BTC ")
	if !ok || code != "btc" {
		t.Fatalf("expected canonical btc, got %q ok=%v", code, ok)
	}
	if _, ok := SupportedCrypto("xmr"); ok {
		t.Fatal("expected xmr unsupported")
	}
}
