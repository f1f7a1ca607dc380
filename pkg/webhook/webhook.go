// Package webhook verifies that inbound telephony callbacks were really signed
// by the configured provider. All verifiers are pure functions: they never
// panic, never touch the network, and always return a Result so the HTTP
// boundary can answer deterministically.
package webhook

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// Failure reasons are deliberately generic; comparison internals never leak.
const (
	ReasonSignatureHeaderMissing = "signature header missing"
	ReasonSignatureInvalid       = "invalid signature"
	ReasonCompatBypass           = "invalid signature, accepted via compatibility mode"
	ReasonBadURL                 = "malformed verification url"
)

// Result is the outcome of a signature check.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	// SignedURL is the URL string the expected signature was computed over.
	SignedURL string `json:"signedUrl,omitempty"`
	// CompatBypass marks a request accepted through the loopback tunnel
	// compatibility mode despite a failed signature check. Callers should
	// log or alert on it.
	CompatBypass bool `json:"compatBypass,omitempty"`
}

func accepted(signedURL string) Result {
	return Result{OK: true, SignedURL: signedURL}
}

func rejected(reason, signedURL string) Result {
	return Result{OK: false, Reason: reason, SignedURL: signedURL}
}

// stripQuery returns rawURL without its query string and fragment.
func stripQuery(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

// isLoopback reports whether a network remote address (host:port or bare
// host) is a loopback IP.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// sortedKeys returns the keys of v in lexicographic order.
func sortedKeys(v url.Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedValues returns a key's values in lexicographic order without
// mutating the original slice.
func sortedValues(v url.Values, key string) []string {
	vals := append([]string(nil), v[key]...)
	sort.Strings(vals)
	return vals
}
