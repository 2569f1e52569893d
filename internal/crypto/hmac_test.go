package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACAuth_HeadersAt(t *testing.T) {
	secret := []byte("terminal-secret")
	h := &HMACAuth{Key: "key-1", Secret: base64.StdEncoding.EncodeToString(secret)}

	headers := h.HeadersAt("POST", "/commandapi/warptrans/TRADE/v2/client/orders/actions/limit", `{"side":"buy"}`, 1700000000)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(`1700000000POST/commandapi/warptrans/TRADE/v2/client/orders/actions/limit{"side":"buy"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "key-1", headers[HeaderAPIKey])
	assert.Equal(t, "1700000000", headers[HeaderTimestamp])
	assert.Equal(t, want, headers[HeaderSignature])
	assert.True(t, h.Verify("POST", "/commandapi/warptrans/TRADE/v2/client/orders/actions/limit", `{"side":"buy"}`, 1700000000, want))
	assert.False(t, h.Verify("DELETE", "/commandapi/warptrans/TRADE/v2/client/orders/actions/limit", `{"side":"buy"}`, 1700000000, want))
}

func TestHMACAuth_RawSecret(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "not base64!"}

	mac := hmac.New(sha256.New, []byte("not base64!"))
	mac.Write([]byte("1GET/x"))

	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), h.HeadersAt("GET", "/x", "", 1)[HeaderSignature])
}

func TestHMACAuth_String(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "xyz"}
	assert.Equal(t, "HMACAuth{key=abcd****, secret=****}", h.String())
}
