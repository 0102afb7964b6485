//go:build !integration

package usecase_test

import (
	"strings"
	"testing"

	"paywall-access/internal/usecase"
)

func TestPaymentVerifier_VerifyDirect(t *testing.T) {
	v := usecase.NewPaymentVerifier(testKeySecret, testWebhookSecret)
	good := usecase.SignDirect(testKeySecret, "order_1", "pay_1")

	cases := []struct {
		name      string
		orderID   string
		paymentID string
		sig       string
		want      bool
	}{
		{"valid", "order_1", "pay_1", good, true},
		{"valid upper-case hex", "order_1", "pay_1", strings.ToUpper(good), true},
		{"surrounding whitespace", "order_1", "pay_1", " " + good + "\n", true},
		{"swapped ids", "pay_1", "order_1", good, false},
		{"other payment", "order_1", "pay_2", good, false},
		{"webhook secret", "order_1", "pay_1", usecase.SignDirect(testWebhookSecret, "order_1", "pay_1"), false},
		{"truncated", "order_1", "pay_1", good[:len(good)-2], false},
		{"not hex", "order_1", "pay_1", strings.Repeat("zz", 32), false},
		{"empty signature", "order_1", "pay_1", "", false},
		{"empty order", "", "pay_1", usecase.SignDirect(testKeySecret, "", "pay_1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.VerifyDirect(tc.orderID, tc.paymentID, tc.sig); got != tc.want {
				t.Errorf("VerifyDirect = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPaymentVerifier_VerifyWebhook(t *testing.T) {
	v := usecase.NewPaymentVerifier(testKeySecret, testWebhookSecret)
	body := []byte(`{"event":"payment.captured"}`)

	if !v.VerifyWebhook(body, usecase.SignWebhook(testWebhookSecret, body)) {
		t.Error("expected valid webhook signature")
	}
	// re-serialized JSON is a different body
	if v.VerifyWebhook([]byte(`{"event": "payment.captured"}`), usecase.SignWebhook(testWebhookSecret, body)) {
		t.Error("signature must bind the exact raw bytes")
	}
	if v.VerifyWebhook(nil, usecase.SignWebhook(testWebhookSecret, nil)) {
		t.Error("empty body must not verify")
	}
}

func TestPaymentVerifier_EmptySecretNeverVerifies(t *testing.T) {
	v := usecase.NewPaymentVerifier("", "")
	if v.VerifyDirect("o", "p", usecase.SignDirect("", "o", "p")) {
		t.Error("empty key secret must reject everything")
	}
	body := []byte(`{}`)
	if v.VerifyWebhook(body, usecase.SignWebhook("", body)) {
		t.Error("empty webhook secret must reject everything")
	}
}
