// File: internal/usecase/verifier.go
package usecase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"paywall-access/internal/infra/metrics"
)

// PaymentVerifier authenticates the two channels that can claim a payment happened:
// the client-relayed confirmation and the processor webhook. It never touches the ledger.
type PaymentVerifier struct {
	keySecret     []byte
	webhookSecret []byte
}

func NewPaymentVerifier(keySecret, webhookSecret string) *PaymentVerifier {
	return &PaymentVerifier{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// VerifyDirect checks signature == hex(HMAC-SHA256(keySecret, orderID|paymentID)).
func (v *PaymentVerifier) VerifyDirect(orderID, paymentID, signature string) bool {
	ok := orderID != "" && paymentID != "" &&
		verifyHex(v.keySecret, []byte(orderID+"|"+paymentID), signature)
	metrics.IncVerify("direct", ok)
	return ok
}

// VerifyWebhook checks the signature over the raw, unparsed request body.
func (v *PaymentVerifier) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	ok := len(rawBody) > 0 && verifyHex(v.webhookSecret, rawBody, signatureHeader)
	metrics.IncVerify("webhook", ok)
	return ok
}

// SignDirect produces the signature a processor hands the client after checkout.
func SignDirect(secret, orderID, paymentID string) string {
	return sign([]byte(secret), []byte(orderID+"|"+paymentID))
}

// SignWebhook produces the webhook signature header for body.
func SignWebhook(secret string, body []byte) string {
	return sign([]byte(secret), body)
}

func sign(secret, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(secret, msg []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), got)
}
