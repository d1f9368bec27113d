package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names used by the EventSub webhook transport.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderSignature        = "Twitch-Eventsub-Message-Signature"
	HeaderSubscriptionType = "Twitch-Eventsub-Subscription-Type"
)

// ComputeSignature returns the expected signature header value for a message:
// HMAC-SHA256 over the concatenation of message id, timestamp, and raw body.
func ComputeSignature(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the supplied signature header matches the
// recomputed one. Comparison is constant-time.
func VerifySignature(secret, messageID, timestamp string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, messageID, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
