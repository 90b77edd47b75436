package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtSignsKeyPlusNonce(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("topsecret"))
	auth := &HMACAuth{Key: "apikey", Secret: secret}

	headers := auth.HeadersAt(1700000000000)

	assert.Equal(t, "apikey", headers["X-PCK"])
	assert.Equal(t, "1700000000000", headers["X-Stamp"])

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte("apikey1700000000000"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, headers["X-Signature"])
}

func TestHeadersNonBase64SecretFallsBack(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "not-base64!!"}

	headers := auth.HeadersAt(1)
	require.NotEmpty(t, headers["X-Signature"])

	mac := hmac.New(sha256.New, []byte("not-base64!!"))
	mac.Write([]byte("k1"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, headers["X-Signature"])
}
