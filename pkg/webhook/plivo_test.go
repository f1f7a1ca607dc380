package webhook

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plivoToken = "MAXXXXXXXXXXXXXXXXXX"

func TestVerifyPlivoV2_ValidSignature(t *testing.T) {
	rawURL := "https://example.com/webhooks/plivo?callId=abc-123"
	nonce := "31627377373433"
	sig, ok := SignPlivoV2(plivoToken, rawURL, nonce)
	require.True(t, ok)

	res := VerifyPlivoV2(plivoToken, PlivoRequest{
		URL:       rawURL,
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)
	// V2 signs the URL with the query string stripped.
	assert.Equal(t, "https://example.com/webhooks/plivo", res.SignedURL)
}

func TestVerifyPlivoV2_QueryStringDoesNotAffectSignature(t *testing.T) {
	nonce := "31627377373433"
	sig, ok := SignPlivoV2(plivoToken, "https://example.com/webhooks/plivo", nonce)
	require.True(t, ok)

	res := VerifyPlivoV2(plivoToken, PlivoRequest{
		URL:       "https://example.com/webhooks/plivo?whatever=else",
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)
}

func TestVerifyPlivoV2_MultipleCandidates(t *testing.T) {
	rawURL := "https://example.com/webhooks/plivo"
	nonce := "98765"
	good, _ := SignPlivoV2(plivoToken, rawURL, nonce)
	stale, _ := SignPlivoV2("rotated-out-token", rawURL, nonce)

	res := VerifyPlivoV2(plivoToken, PlivoRequest{
		URL:       rawURL,
		Nonce:     nonce,
		Signature: stale + ", " + good,
	})
	assert.True(t, res.OK)

	res = VerifyPlivoV2(plivoToken, PlivoRequest{
		URL:       rawURL,
		Nonce:     nonce,
		Signature: stale + ", " + mutate(good, 3),
	})
	assert.False(t, res.OK)
	assert.Equal(t, ReasonSignatureInvalid, res.Reason)
}

func TestVerifyPlivoV2_AnySingleCharacterFlipInvalidates(t *testing.T) {
	rawURL := "https://example.com/webhooks/plivo"
	nonce := "13579"
	sig, _ := SignPlivoV2(plivoToken, rawURL, nonce)

	for i := 0; i < len(sig); i++ {
		res := VerifyPlivoV2(plivoToken, PlivoRequest{
			URL:       rawURL,
			Nonce:     nonce,
			Signature: mutate(sig, i),
		})
		require.False(t, res.OK, "flipped char at %d must invalidate", i)
	}
}

func TestVerifyPlivoV2_MissingHeader(t *testing.T) {
	res := VerifyPlivoV2(plivoToken, PlivoRequest{
		URL:   "https://example.com/webhooks/plivo",
		Nonce: "1",
	})
	assert.False(t, res.OK)
	assert.Equal(t, ReasonSignatureHeaderMissing, res.Reason)
}

func plivoBody() url.Values {
	return url.Values{
		"CallUUID": {"uuid-1234"},
		"Event":    {"StartStream"},
		"From":     {"+15550001111"},
	}
}

func TestVerifyPlivoV3_ValidPostRequest(t *testing.T) {
	rawURL := "https://example.com/webhooks/plivo"
	nonce := "24680"
	body := plivoBody()
	sig, ok := SignPlivoV3(plivoToken, rawURL, body, nonce)
	require.True(t, ok)

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       rawURL,
		PostForm:  body,
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)
}

func TestVerifyPlivoV3_QueryReorderInsensitive(t *testing.T) {
	nonce := "24680"
	// Same parameters, different textual order in the URL.
	sig, ok := SignPlivoV3(plivoToken, "https://example.com/hook?b=2&a=1", nil, nonce)
	require.True(t, ok)

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       "https://example.com/hook?a=1&b=2",
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)
}

func TestVerifyPlivoV3_RepeatedKeyValueOrderInsensitive(t *testing.T) {
	nonce := "24680"
	sig, ok := SignPlivoV3(plivoToken, "https://example.com/hook?k=z&k=a", nil, nonce)
	require.True(t, ok)

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       "https://example.com/hook?k=a&k=z",
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)
}

func TestVerifyPlivoV3_ValueChangeSensitive(t *testing.T) {
	nonce := "24680"
	sig, _ := SignPlivoV3(plivoToken, "https://example.com/hook?a=1&b=2", nil, nonce)

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       "https://example.com/hook?a=1&b=3",
		Nonce:     nonce,
		Signature: sig,
	})
	assert.False(t, res.OK)
	assert.Equal(t, ReasonSignatureInvalid, res.Reason)
}

func TestVerifyPlivoV3_BodyValueChangeSensitive(t *testing.T) {
	rawURL := "https://example.com/hook"
	nonce := "24680"
	sig, _ := SignPlivoV3(plivoToken, rawURL, plivoBody(), nonce)

	altered := plivoBody()
	altered.Set("Event", "StopStream")
	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       rawURL,
		PostForm:  altered,
		Nonce:     nonce,
		Signature: sig,
	})
	assert.False(t, res.OK)
}

func TestVerifyPlivoV3_QueryAndBodyBothContribute(t *testing.T) {
	rawURL := "https://example.com/hook?callId=abc"
	nonce := "11111"
	body := plivoBody()
	sig, ok := SignPlivoV3(plivoToken, rawURL, body, nonce)
	require.True(t, ok)

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       rawURL,
		PostForm:  body,
		Nonce:     nonce,
		Signature: sig,
	})
	assert.True(t, res.OK)

	// Dropping the query changes the base string.
	res = VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       "https://example.com/hook",
		PostForm:  body,
		Nonce:     nonce,
		Signature: sig,
	})
	assert.False(t, res.OK)
}

func TestVerifyPlivoV3_NonceChangeSensitive(t *testing.T) {
	rawURL := "https://example.com/hook"
	sig, _ := SignPlivoV3(plivoToken, rawURL, plivoBody(), "1111")

	res := VerifyPlivoV3(plivoToken, PlivoRequest{
		URL:       rawURL,
		PostForm:  plivoBody(),
		Nonce:     "2222",
		Signature: sig,
	})
	assert.False(t, res.OK)
}

func TestPlivoV3BaseString_Shape(t *testing.T) {
	base, ok := plivoV3BaseString(
		"https://example.com/hook?b=2&a=1",
		url.Values{"k": {"v"}},
		"n0nce",
	)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/hook?a=1&b=2.kv.n0nce", base)

	// Body only: the "?" still introduces the (empty) query section.
	base, ok = plivoV3BaseString("https://example.com/hook", url.Values{"k": {"v"}}, "n")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/hook?kv.n", base)

	// Neither query nor body.
	base, ok = plivoV3BaseString("https://example.com/hook", nil, "n")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/hook.n", base)
}
