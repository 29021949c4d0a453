package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "key_secret"
	valid := Sign([]byte("order_9A33XWu170gUtm|pay_29QQoUBi66xm2f"), secret)

	assert.True(t, VerifyPaymentSignature("order_9A33XWu170gUtm", "pay_29QQoUBi66xm2f", valid, secret))
	assert.False(t, VerifyPaymentSignature("order_9A33XWu170gUtm", "pay_tampered", valid, secret))
	assert.False(t, VerifyPaymentSignature("order_9A33XWu170gUtm", "pay_29QQoUBi66xm2f", valid, "wrong_secret"))
	assert.False(t, VerifyPaymentSignature("order_9A33XWu170gUtm", "pay_29QQoUBi66xm2f", "", secret))
	assert.False(t, VerifyPaymentSignature("", "pay_29QQoUBi66xm2f", valid, secret))
}

func TestVerifyWebhookSignatureUsesRawBytes(t *testing.T) {
	secret := "whsec"
	raw := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":2900}}}}`)
	sig := Sign(raw, secret)

	assert.True(t, VerifyWebhookSignature(raw, sig, secret))

	reordered := []byte(`{"payload":{"payment":{"entity":{"amount":2900,"id":"pay_1"}}},"event":"payment.captured"}`)
	assert.False(t, VerifyWebhookSignature(reordered, sig, secret))
	assert.False(t, VerifyWebhookSignature(raw, sig, "other"))
	assert.False(t, VerifyWebhookSignature(nil, sig, secret))
}
