package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the API credentials used to sign terminal REST requests.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, base64-encoded or raw
}

// Header names carried on every signed request.
const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderTimestamp = "X-API-TIMESTAMP"
	HeaderSignature = "X-API-SIGNATURE"
)

// Headers returns the signing headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64(h.secretBytes(), ts+method+path+body),
	}
}

// Verify reports whether sig is the signature of the request at unixTS.
func (h *HMACAuth) Verify(method, path, body string, unixTS int64, sig string) bool {
	want := hmacSHA256Base64(h.secretBytes(), strconv.FormatInt(unixTS, 10)+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// secretBytes decodes a base64 secret, falling back to the raw bytes.
func (h *HMACAuth) secretBytes() []byte {
	if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil && len(b) > 0 {
		return b
	}
	return []byte(h.Secret)
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
