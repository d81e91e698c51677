package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestStripe() *StripeGateway {
	return NewStripeGateway("sk_test_123", testWebhookSecret, &http.Client{Timeout: time.Second})
}

func TestParseWebhookSucceeded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "amount": 6440, "metadata": {"order_id": "42"}}}
	}`)

	ev, err := newTestStripe().ParseWebhook(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.IntentID)
	assert.Equal(t, "42", ev.Metadata["order_id"])
}

func TestParseWebhookFailedCarriesReason(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_2", "object": "payment_intent", "status": "requires_payment_method",
			"last_payment_error": {"message": "Your card was declined.", "code": "card_declined"},
			"metadata": {"order_id": "7"}}}
	}`)

	ev, err := newTestStripe().ParseWebhook(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, ev.Type)
	assert.Equal(t, "Your card was declined.", ev.Failure)
	assert.Equal(t, "card_declined", ev.Code)
}

func TestParseWebhookRefundedCharge(t *testing.T) {
	payload := []byte(`{
		"id": "evt_3",
		"object": "event",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_3", "metadata": {"order_id": "9"}}}
	}`)

	ev, err := newTestStripe().ParseWebhook(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, EventRefunded, ev.Type)
	assert.Equal(t, "pi_3", ev.IntentID)
	assert.Equal(t, "9", ev.Metadata["order_id"])
}

func TestParseWebhookRejectsBadSignatures(t *testing.T) {
	payload := []byte(`{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_4"}}}`)
	g := newTestStripe()

	_, err := g.ParseWebhook(payload, "")
	assert.Error(t, err)

	_, err = g.ParseWebhook(payload, sign(payload, "whsec_other"))
	assert.Error(t, err)

	tampered := []byte(`{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_evil"}}}`)
	_, err = g.ParseWebhook(tampered, sign(payload, testWebhookSecret))
	assert.Error(t, err)
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	payload := []byte(`{"id":"evt_5","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	ev, err := newTestStripe().ParseWebhook(payload, sign(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Empty(t, ev.Type)
	assert.Equal(t, "customer.created", ev.RawType)
}
