package order

import (
	"regexp"
	"strings"
)

var (
	domainRegex = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	emailRegex  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	hostRegex   = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
)

// DNS modes a user may choose for a registered domain.
const (
	DNSModeManaged = "managed"
	DNSModeCustom  = "custom"
)

// Payment methods supported at checkout.
const (
	PayBalance = "balance"
	PayCrypto  = "crypto"
)

// supportedCryptos maps accepted cryptocurrency codes to their display names.
var supportedCryptos = map[string]string{
	"btc":  "Bitcoin",
	"eth":  "Ethereum",
	"ltc":  "Litecoin",
	"doge": "Dogecoin",
}

// ValidDomain checks basic domain name syntax.
func ValidDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return len(domain) <= 253 && domainRegex.MatchString(domain)
}

// ValidEmail checks basic email syntax.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(strings.TrimSpace(email))
}

// ValidNameserver checks a custom nameserver hostname.
func ValidNameserver(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	return len(host) <= 253 && hostRegex.MatchString(host)
}

// SupportedCrypto reports whether code names an accepted cryptocurrency and
// returns its canonical lowercase form.
func SupportedCrypto(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	_, ok := supportedCryptos[code]
	return code, ok
}

// CryptoCodes returns the accepted cryptocurrency codes.
func CryptoCodes() []string {
	codes := make([]string, 0, len(supportedCryptos))
	for code := range supportedCryptos {
		codes = append(codes, code)
	}
	return codes
}
