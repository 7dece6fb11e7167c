package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

const (
	RedirectSignatureHeader = "X-Signature"
	redirectTolerance       = 5 * time.Minute
)

// Redirect : page de paiement hébergée, webhooks signés HMAC-SHA256
type Redirect struct {
	api           *restClient
	webhookSecret string
	returnURL     string
	cancelURL     string
	retry         RetryPolicy
	now           func() time.Time
}

type RedirectOptions struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	ReturnURL     string
	CancelURL     string
	Retry         RetryPolicy
	HTTPClient    *http.Client
}

func NewRedirect(opts RedirectOptions) *Redirect {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Redirect{
		api: &restClient{
			provider: models.ProviderRedirect,
			baseURL:  opts.BaseURL,
			http:     client,
			headers:  map[string]string{"Authorization": "Bearer " + opts.APIKey},
		},
		webhookSecret: opts.WebhookSecret,
		returnURL:     opts.ReturnURL,
		cancelURL:     opts.CancelURL,
		retry:         opts.Retry,
		now:           time.Now,
	}
}

func (r *Redirect) Name() string       { return models.ProviderRedirect }
func (r *Redirect) SessionFirst() bool { return false }

type redirectPayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
}

func (r *Redirect) Initiate(ctx context.Context, o *models.Order) (Session, error) {
	amounts := substituteTotal(r.Name(), o)

	lines := make([]map[string]any, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lines = append(lines, map[string]any{
			"reference":  li.ProductRef,
			"name":       li.Name,
			"quantity":   li.Quantity,
			"unit_price": li.UnitPrice.StringFixed(2),
			"total":      li.LineTotal.StringFixed(2),
		})
	}
	body := map[string]any{
		"amount":      amounts.Total.StringFixed(2),
		"currency":    strings.ToUpper(o.Currency),
		"reference":   o.OrderID,
		"description": "Commande " + o.OrderID,
		"return_url":  r.returnURL + "?order_id=" + o.OrderID,
		"cancel_url":  r.cancelURL + "?order_id=" + o.OrderID,
		"lines":       lines,
		"breakdown": map[string]string{
			"subtotal": amounts.Subtotal.StringFixed(2),
			"shipping": amounts.Shipping.StringFixed(2),
			"tax":      amounts.Tax.StringFixed(2),
			"discount": amounts.Discount.StringFixed(2),
		},
	}

	var payment redirectPayment
	err := r.retry.Do(ctx, r.Name(), func(ctx context.Context) error {
		return r.api.do(ctx, http.MethodPost, "/v1/payments", body, &payment,
			map[string]string{"Idempotency-Key": o.IdempotencyKey})
	})
	if err != nil {
		return Session{}, err
	}

	log.Printf("🔗 Paiement hébergé créé : %s (%s %s) pour %s", payment.ID, amounts.Total.StringFixed(2), o.Currency, o.OrderID)
	return Session{Reference: payment.ID, RedirectURL: payment.CheckoutURL}, nil
}

// Capture lit l'état du paiement : la page hébergée encaisse elle-même
func (r *Redirect) Capture(ctx context.Context, reference string) (Outcome, error) {
	var payment redirectPayment
	err := r.retry.Do(ctx, r.Name(), func(ctx context.Context) error {
		return r.api.do(ctx, http.MethodGet, "/v1/payments/"+reference, nil, &payment, nil)
	})
	if err != nil {
		return "", err
	}
	switch payment.Status {
	case "paid", "succeeded":
		return OutcomeSucceeded, nil
	case "failed", "canceled", "expired":
		return OutcomeFailed, nil
	}
	return OutcomePending, nil
}

func (r *Redirect) Refund(ctx context.Context, o *models.Order, amount decimal.Decimal) (RefundResult, error) {
	var refund struct {
		ID string `json:"id"`
	}
	err := r.retry.Do(ctx, r.Name(), func(ctx context.Context) error {
		return r.api.do(ctx, http.MethodPost, "/v1/payments/"+o.ProviderReference+"/refunds",
			map[string]string{"amount": amount.StringFixed(2), "currency": strings.ToUpper(o.Currency)}, &refund,
			map[string]string{"Idempotency-Key": "refund-" + o.OrderID})
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{RefundID: refund.ID}, nil
}

// SignRedirectPayload produit l'en-tête X-Signature "t=<unix>,v1=<hex>"
func SignRedirectPayload(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + redirectMAC(secret, ts, payload)
}

func redirectMAC(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (r *Redirect) verifySignature(payload []byte, header string) error {
	if r.webhookSecret == "" {
		return errors.New("REDIRECT_WEBHOOK_SECRET non configuré")
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return errors.New("en-tête X-Signature malformé")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("horodatage invalide: %w", err)
	}
	if age := r.now().Sub(time.Unix(unix, 0)); age > redirectTolerance || age < -redirectTolerance {
		return fmt.Errorf("signature hors tolérance (%s)", age.Round(time.Second))
	}

	if !hmac.Equal([]byte(sig), []byte(redirectMAC(r.webhookSecret, ts, payload))) {
		return errors.New("signature HMAC incorrecte")
	}
	return nil
}

type redirectEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		PaymentID string `json:"payment_id"`
	} `json:"data"`
}

func (r *Redirect) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) (VerifiedEvent, error) {
	if err := r.verifySignature(payload, headers.Get(RedirectSignatureHeader)); err != nil {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(r.Name(), err)
	}

	var event redirectEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return VerifiedEvent{}, apperr.Validation("événement redirect illisible: %v", err)
	}

	ev := VerifiedEvent{
		EventID:    event.ID,
		EventType:  event.Type,
		Kind:       EventIgnored,
		Reference:  event.Data.PaymentID,
		OccurredAt: event.CreatedAt,
		Raw:        payload,
	}
	switch event.Type {
	case "payment.paid":
		ev.Kind = EventSucceeded
	case "payment.failed":
		ev.Kind = EventFailed
	case "payment.canceled", "payment.expired":
		ev.Kind = EventCancelled
	case "payment.refunded":
		ev.Kind = EventRefunded
	case "payment.pending", "payment.authorized":
		ev.Kind = EventPending
	}
	return ev, nil
}

var _ Adapter = (*Redirect)(nil)
