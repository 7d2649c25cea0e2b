// Package signing implements the device event signature scheme:
// HMAC-SHA256 over "device_id|tag_uid|timestamp", hex encoded.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// CanonicalMessage builds the exact byte string a device signs.
func CanonicalMessage(deviceID, tagUID string, timestamp int64) []byte {
	var b strings.Builder
	b.Grow(len(deviceID) + len(tagUID) + 22)
	b.WriteString(deviceID)
	b.WriteByte('|')
	b.WriteString(tagUID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	return []byte(b.String())
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical message.
// The secret is used as-is (the hex string flashed to the device), not decoded.
func Sign(deviceID, tagUID string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(CanonicalMessage(deviceID, tagUID, timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC and compares it in constant time.
// Any missing input or a signature that is not hex yields false.
func Verify(deviceID, tagUID string, timestamp int64, signature, secret string) bool {
	if deviceID == "" || tagUID == "" || signature == "" || secret == "" {
		return false
	}

	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(CanonicalMessage(deviceID, tagUID, timestamp))
	return hmac.Equal(got, mac.Sum(nil))
}
