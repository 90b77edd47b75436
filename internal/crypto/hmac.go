// Package crypto implements the request-signing schemes of the supported
// exchanges.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated REST requests
// against the BTCTurk private API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, base64-encoded as issued by the exchange
}

// Headers returns the authentication headers for a private API request.
// The signature is HMAC-SHA256(base64decode(secret), key+nonce) encoded as
// base64; the nonce is the current time in milliseconds.
//
// Returned header keys:
//   - X-PCK
//   - X-Stamp
//   - X-Signature
func (h *HMACAuth) Headers() map[string]string {
	return h.HeadersAt(time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond nonce
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(nonceMillis int64) map[string]string {
	nonce := strconv.FormatInt(nonceMillis, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(h.Secret)
	}

	sig := hmacSHA256Base64(secretBytes, h.Key+nonce)

	return map[string]string{
		"X-PCK":       h.Key,
		"X-Stamp":     nonce,
		"X-Signature": sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
