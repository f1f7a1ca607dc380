package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
)

// PlivoRequest carries the signing material of one inbound Plivo callback.
type PlivoRequest struct {
	// URL is the public HTTPS URL of the request, including any query string.
	URL string
	// PostForm holds the decoded POST parameters (V3 only).
	PostForm url.Values
	// Nonce is the value of the X-Plivo-Signature-V2-Nonce (or V3) header.
	Nonce string
	// Signature is the signature header value. During key rotation Plivo
	// sends several comma-separated candidates; any single match accepts.
	Signature string
}

// signatureCandidates splits a possibly comma-separated signature header.
func signatureCandidates(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func anyCandidateMatches(expected string, header string) bool {
	match := false
	for _, candidate := range signatureCandidates(header) {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			match = true
		}
	}
	return match
}

func hmacSHA256Base64(authToken, payload string) string {
	mac := hmac.New(sha256.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignPlivoV2 computes the V2 signature over the query-stripped URL plus nonce.
func SignPlivoV2(authToken, rawURL, nonce string) (string, bool) {
	verificationURL, ok := stripQuery(rawURL)
	if !ok {
		return "", false
	}
	return hmacSHA256Base64(authToken, verificationURL+nonce), true
}

// VerifyPlivoV2 checks the X-Plivo-Signature-V2 header:
// base64(HMAC-SHA256(authToken, urlWithoutQuery + nonce)).
func VerifyPlivoV2(authToken string, req PlivoRequest) Result {
	if req.Signature == "" {
		return rejected(ReasonSignatureHeaderMissing, "")
	}
	expected, ok := SignPlivoV2(authToken, req.URL, req.Nonce)
	if !ok {
		return rejected(ReasonBadURL, "")
	}
	signedURL, _ := stripQuery(req.URL)
	if anyCandidateMatches(expected, req.Signature) {
		return accepted(signedURL)
	}
	return rejected(ReasonSignatureInvalid, signedURL)
}

// canonicalQuery re-serializes query parameters with keys sorted and, for
// repeated keys, values sorted too. Values are used in decoded form; both
// signer and verifier canonicalize identically.
func canonicalQuery(v url.Values) string {
	var parts []string
	for _, k := range sortedKeys(v) {
		for _, val := range sortedValues(v, k) {
			parts = append(parts, k+"="+val)
		}
	}
	return strings.Join(parts, "&")
}

// canonicalParams concatenates parameters as key+value with no separators,
// keys sorted and repeated-key values sorted.
func canonicalParams(v url.Values) string {
	var sb strings.Builder
	for _, k := range sortedKeys(v) {
		for _, val := range sortedValues(v, k) {
			sb.WriteString(k)
			sb.WriteString(val)
		}
	}
	return sb.String()
}

// plivoV3BaseString builds the canonical string the V3 scheme signs:
// url-without-query, then "?" + sorted query params when query or body is
// present, a "." separator when both contribute, the sorted body params as
// key+value runs, and finally "." + nonce.
func plivoV3BaseString(rawURL string, body url.Values, nonce string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	query := u.Query()
	u.RawQuery = ""
	u.Fragment = ""

	var sb strings.Builder
	sb.WriteString(u.String())
	if len(query) > 0 || len(body) > 0 {
		sb.WriteString("?")
		sb.WriteString(canonicalQuery(query))
		if len(query) > 0 && len(body) > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(canonicalParams(body))
	}
	sb.WriteString(".")
	sb.WriteString(nonce)
	return sb.String(), true
}

// SignPlivoV3 computes the V3 signature for a request.
func SignPlivoV3(authToken, rawURL string, body url.Values, nonce string) (string, bool) {
	base, ok := plivoV3BaseString(rawURL, body, nonce)
	if !ok {
		return "", false
	}
	return hmacSHA256Base64(authToken, base), true
}

// VerifyPlivoV3 checks the X-Plivo-Signature-V3 header against the canonical
// base string. Multiple comma-separated candidates are handled like V2.
func VerifyPlivoV3(authToken string, req PlivoRequest) Result {
	if req.Signature == "" {
		return rejected(ReasonSignatureHeaderMissing, "")
	}
	expected, ok := SignPlivoV3(authToken, req.URL, req.PostForm, req.Nonce)
	if !ok {
		return rejected(ReasonBadURL, "")
	}
	signedURL, _ := stripQuery(req.URL)
	if anyCandidateMatches(expected, req.Signature) {
		return accepted(signedURL)
	}
	return rejected(ReasonSignatureInvalid, signedURL)
}
