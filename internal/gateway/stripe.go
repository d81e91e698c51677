package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Card gateway event types, normalized from Stripe's event names.
const (
	EventSucceeded     = "succeeded"
	EventPaymentFailed = "payment_failed"
	EventRefunded      = "refunded"
	EventCanceled      = "canceled"
)

// CardIntent is the gateway-neutral view of a Stripe PaymentIntent.
type CardIntent struct {
	ID            string
	ClientSecret  string
	Status        string
	AmountMinor   int64
	Currency      string
	Metadata      map[string]string
	FailureReason string
	FailureCode   string
}

type CreateIntentParams struct {
	AmountMinor    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type CardRefund struct {
	ID          string
	Status      string
	AmountMinor int64
}

// CardEvent is a verified webhook event reduced to what reconciliation needs.
type CardEvent struct {
	ID       string
	Type     string // one of the Event* constants, empty for ignored events
	RawType  string
	IntentID string
	Metadata map[string]string
	Failure  string
	Code     string
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a client with stripe's own retries disabled: reads
// are retried once here and creation calls are never retried.
func NewStripeGateway(secretKey, webhookSecret string, httpClient *http.Client) *StripeGateway {
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*CardIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(p.AmountMinor),
		Currency:    stripe.String(p.Currency),
		Description: stripe.String(p.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError("create payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*CardIntent, error) {
	return retryOnce(ctx, "stripe get payment intent", func() (*CardIntent, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := g.api.PaymentIntents.Get(id, params)
		if err != nil {
			return nil, stripeError("get payment intent", err)
		}
		return intentFromStripe(pi), nil
	})
}

// CreateRefund refunds amountMinor of the intent, or all of it when amountMinor is 0.
func (g *StripeGateway) CreateRefund(ctx context.Context, intentID string, amountMinor int64, reason string) (*CardRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, stripeError("create refund", err)
	}
	return &CardRefund{ID: r.ID, Status: string(r.Status), AmountMinor: r.Amount}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
// Unsigned or tampered payloads are rejected.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*CardEvent, error) {
	if signature == "" {
		return nil, errors.New("missing webhook signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	return decodeCardEvent(event)
}

func decodeCardEvent(event stripe.Event) (*CardEvent, error) {
	ev := &CardEvent{ID: event.ID, RawType: string(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		intent := intentFromStripe(&pi)
		ev.IntentID = intent.ID
		ev.Metadata = intent.Metadata
		ev.Failure = intent.FailureReason
		ev.Code = intent.FailureCode
		switch event.Type {
		case "payment_intent.succeeded":
			ev.Type = EventSucceeded
		case "payment_intent.payment_failed":
			ev.Type = EventPaymentFailed
		default:
			ev.Type = EventCanceled
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		ev.Type = EventRefunded
		ev.Metadata = ch.Metadata
		if ch.PaymentIntent != nil {
			ev.IntentID = ch.PaymentIntent.ID
		}
	}
	return ev, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *CardIntent {
	intent := &CardIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = pi.LastPaymentError.Msg
		intent.FailureCode = string(pi.LastPaymentError.Code)
	}
	return intent
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{Gateway: "stripe", Op: op, Message: se.Msg, Code: string(se.Code), Status: se.HTTPStatusCode, Err: err}
	}
	return &Error{Gateway: "stripe", Op: op, Message: "payment provider unavailable", Err: err}
}
