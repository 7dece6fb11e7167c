package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

type intentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// Card : réseau carte via Stripe PaymentIntents
type Card struct {
	intents       intentAPI
	refunds       refundAPI
	webhookSecret string
	retry         RetryPolicy
}

func NewCard(secretKey, webhookSecret string, retry RetryPolicy) *Card {
	sc := stripe.NewClient(secretKey)
	return newCard(sc.V1PaymentIntents, sc.V1Refunds, webhookSecret, retry)
}

func newCard(intents intentAPI, refunds refundAPI, webhookSecret string, retry RetryPolicy) *Card {
	return &Card{intents: intents, refunds: refunds, webhookSecret: webhookSecret, retry: retry}
}

func (c *Card) Name() string       { return models.ProviderCard }
func (c *Card) SessionFirst() bool { return true }

// classifyStripe : 5xx, 429 et erreurs réseau sont rejouables
func classifyStripe(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests {
			return Transient(err)
		}
		return apperr.Internal(err, "stripe a refusé la requête (%s)", se.Code)
	}
	return Transient(err)
}

func (c *Card) Initiate(ctx context.Context, o *models.Order) (Session, error) {
	// le montant débité vient toujours des lignes, jamais du total client
	amounts, mismatch := Revalidate(o)
	if mismatch {
		return Session{}, CheckDeclared(o.Amounts.Total, amounts.Total)
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(ToCents(amounts.Total)),
		Currency: stripe.String(strings.ToLower(o.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id":  o.OrderID,
			"owner_ref": o.OwnerRef,
		},
	}
	if o.ContactEmail != "" {
		params.ReceiptEmail = stripe.String(o.ContactEmail)
	}
	params.SetIdempotencyKey(o.IdempotencyKey)

	var intent *stripe.PaymentIntent
	err := c.retry.Do(ctx, c.Name(), func(ctx context.Context) error {
		var err error
		intent, err = c.intents.Create(ctx, params)
		return classifyStripe(err)
	})
	if err != nil {
		return Session{}, err
	}

	log.Printf("💳 PaymentIntent créé : %s (%s %s) pour %s", intent.ID, amounts.Total.StringFixed(2), o.Currency, o.OrderID)
	return Session{Reference: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (c *Card) Capture(ctx context.Context, reference string) (Outcome, error) {
	var intent *stripe.PaymentIntent
	err := c.retry.Do(ctx, c.Name(), func(ctx context.Context) error {
		var err error
		intent, err = c.intents.Retrieve(ctx, reference, &stripe.PaymentIntentRetrieveParams{})
		return classifyStripe(err)
	})
	if err != nil {
		return "", err
	}
	return intentOutcome(intent), nil
}

func intentOutcome(pi *stripe.PaymentIntent) Outcome {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// retour à requires_payment_method après un refus
		if pi.LastPaymentError != nil {
			return OutcomeFailed
		}
	}
	return OutcomePending
}

func (c *Card) Refund(ctx context.Context, o *models.Order, amount decimal.Decimal) (RefundResult, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(o.ProviderReference),
		Amount:        stripe.Int64(ToCents(amount)),
		Reason:        stripe.String("requested_by_customer"),
	}
	params.SetIdempotencyKey("refund-" + o.OrderID)

	var refund *stripe.Refund
	err := c.retry.Do(ctx, c.Name(), func(ctx context.Context) error {
		var err error
		refund, err = c.refunds.Create(ctx, params)
		return classifyStripe(err)
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{RefundID: refund.ID}, nil
}

func (c *Card) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) (VerifiedEvent, error) {
	if c.webhookSecret == "" {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(c.Name(), errors.New("STRIPE_WEBHOOK_SECRET non configuré"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(c.Name(), err)
	}

	ev := VerifiedEvent{
		EventID:    event.ID,
		EventType:  string(event.Type),
		Kind:       EventIgnored,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Raw:        payload,
	}

	switch event.Type {
	case "payment_intent.succeeded":
		ev.Kind = EventSucceeded
	case "payment_intent.payment_failed":
		ev.Kind = EventFailed
	case "payment_intent.canceled":
		ev.Kind = EventCancelled
	case "payment_intent.processing", "payment_intent.requires_action":
		ev.Kind = EventPending
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return VerifiedEvent{}, apperr.Validation("charge illisible: %v", err)
		}
		if ch.PaymentIntent != nil {
			ev.Reference = ch.PaymentIntent.ID
		}
		ev.Kind = EventRefunded
		return ev, nil
	default:
		return ev, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return VerifiedEvent{}, apperr.Validation("PaymentIntent illisible: %v", err)
	}
	ev.Reference = pi.ID
	return ev, nil
}

var _ Adapter = (*Card)(nil)
