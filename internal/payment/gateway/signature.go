package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyPaymentSignature checks the checkout signature, an HMAC-SHA256 of
// "orderID|paymentID" keyed by the API secret, hex encoded.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	if orderID == "" || paymentID == "" || secret == "" {
		return false
	}
	return verifyHex([]byte(orderID+"|"+paymentID), signature, secret)
}

// VerifyWebhookSignature checks an HMAC-SHA256 over the exact request bytes.
// The body must not be re-serialized before this call.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if len(rawBody) == 0 || secret == "" {
		return false
	}
	return verifyHex(rawBody, signature, secret)
}

// Sign returns the hex HMAC-SHA256 of message keyed by secret.
func Sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(message []byte, signature, secret string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := Sign(message, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
