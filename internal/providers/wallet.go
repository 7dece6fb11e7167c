package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/clientcredentials"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

// Wallet : API Orders v2 de type PayPal, jeton OAuth2 client_credentials
type Wallet struct {
	api       *restClient
	webhookID string
	returnURL string
	cancelURL string
	retry     RetryPolicy
}

type WalletOptions struct {
	BaseURL   string
	OAuth     *clientcredentials.Config
	WebhookID string
	ReturnURL string
	CancelURL string
	Retry     RetryPolicy
}

func NewWallet(opts WalletOptions) *Wallet {
	return &Wallet{
		api: &restClient{
			provider: models.ProviderWallet,
			baseURL:  opts.BaseURL,
			// le transport oauth2 obtient et renouvelle le jeton
			http: opts.OAuth.Client(context.Background()),
		},
		webhookID: opts.WebhookID,
		returnURL: opts.ReturnURL,
		cancelURL: opts.CancelURL,
		retry:     opts.Retry,
	}
}

func (w *Wallet) Name() string       { return models.ProviderWallet }
func (w *Wallet) SessionFirst() bool { return false }

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func newMoney(currency string, d decimal.Decimal) money {
	return money{CurrencyCode: strings.ToUpper(currency), Value: d.StringFixed(2)}
}

type walletItem struct {
	Name       string `json:"name"`
	SKU        string `json:"sku,omitempty"`
	Quantity   string `json:"quantity"`
	UnitAmount money  `json:"unit_amount"`
}

type walletBreakdown struct {
	ItemTotal money `json:"item_total"`
	Shipping  money `json:"shipping"`
	TaxTotal  money `json:"tax_total"`
	Discount  money `json:"discount"`
}

type walletAmount struct {
	money
	Breakdown walletBreakdown `json:"breakdown"`
}

type walletPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id"`
	Amount      walletAmount `json:"amount"`
	Items       []walletItem `json:"items"`
}

type walletOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []walletPurchaseUnit `json:"purchase_units"`
	ApplicationContext map[string]string    `json:"application_context"`
}

type walletLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type walletCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type walletOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []walletLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []walletCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o walletOrder) captures() []walletCapture {
	var out []walletCapture
	for _, pu := range o.PurchaseUnits {
		out = append(out, pu.Payments.Captures...)
	}
	return out
}

func (w *Wallet) Initiate(ctx context.Context, o *models.Order) (Session, error) {
	amounts := substituteTotal(w.Name(), o)

	items := make([]walletItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, walletItem{
			Name:       li.Name,
			SKU:        li.ProductRef,
			Quantity:   strconv.Itoa(li.Quantity),
			UnitAmount: newMoney(o.Currency, li.UnitPrice),
		})
	}

	body := walletOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []walletPurchaseUnit{{
			ReferenceID: o.OrderID,
			CustomID:    o.OrderID,
			Amount: walletAmount{
				money: newMoney(o.Currency, amounts.Total),
				Breakdown: walletBreakdown{
					ItemTotal: newMoney(o.Currency, amounts.Subtotal),
					Shipping:  newMoney(o.Currency, amounts.Shipping),
					TaxTotal:  newMoney(o.Currency, amounts.Tax),
					Discount:  newMoney(o.Currency, amounts.Discount),
				},
			},
			Items: items,
		}},
		ApplicationContext: map[string]string{
			"return_url": w.returnURL + "?order_id=" + o.OrderID,
			"cancel_url": w.cancelURL + "?order_id=" + o.OrderID,
		},
	}

	var created walletOrder
	err := w.retry.Do(ctx, w.Name(), func(ctx context.Context) error {
		return w.api.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &created,
			map[string]string{"PayPal-Request-Id": o.IdempotencyKey})
	})
	if err != nil {
		return Session{}, err
	}

	sess := Session{Reference: created.ID}
	for _, l := range created.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			sess.RedirectURL = l.Href
		}
	}
	log.Printf("👛 Commande wallet créée : %s (%s %s) pour %s", created.ID, amounts.Total.StringFixed(2), o.Currency, o.OrderID)
	return sess, nil
}

func (w *Wallet) getOrder(ctx context.Context, reference string) (walletOrder, error) {
	var order walletOrder
	err := w.retry.Do(ctx, w.Name(), func(ctx context.Context) error {
		return w.api.do(ctx, http.MethodGet, "/v2/checkout/orders/"+reference, nil, &order, nil)
	})
	return order, err
}

func (w *Wallet) Capture(ctx context.Context, reference string) (Outcome, error) {
	order, err := w.getOrder(ctx, reference)
	if err != nil {
		return "", err
	}

	switch order.Status {
	case "COMPLETED":
		return captureOutcome(order.captures()), nil
	case "VOIDED":
		return OutcomeFailed, nil
	case "APPROVED":
	default:
		// CREATED, SAVED, PAYER_ACTION_REQUIRED : le client n'a pas fini
		return OutcomePending, nil
	}

	var captured walletOrder
	err = w.retry.Do(ctx, w.Name(), func(ctx context.Context) error {
		return w.api.do(ctx, http.MethodPost, "/v2/checkout/orders/"+reference+"/capture", struct{}{}, &captured,
			map[string]string{"PayPal-Request-Id": "capture-" + reference})
	})
	if err != nil {
		return "", err
	}
	return captureOutcome(captured.captures()), nil
}

func captureOutcome(captures []walletCapture) Outcome {
	if len(captures) == 0 {
		return OutcomePending
	}
	switch captures[0].Status {
	case "COMPLETED":
		return OutcomeSucceeded
	case "DECLINED", "FAILED":
		return OutcomeFailed
	}
	return OutcomePending
}

func (w *Wallet) Refund(ctx context.Context, o *models.Order, amount decimal.Decimal) (RefundResult, error) {
	order, err := w.getOrder(ctx, o.ProviderReference)
	if err != nil {
		return RefundResult{}, err
	}
	captures := order.captures()
	if len(captures) == 0 {
		return RefundResult{}, apperr.Validation("aucune capture wallet pour la commande %s", o.OrderID)
	}

	var refund struct {
		ID string `json:"id"`
	}
	err = w.retry.Do(ctx, w.Name(), func(ctx context.Context) error {
		return w.api.do(ctx, http.MethodPost, "/v2/payments/captures/"+captures[0].ID+"/refund",
			map[string]any{"amount": newMoney(o.Currency, amount)}, &refund,
			map[string]string{"PayPal-Request-Id": "refund-" + o.OrderID})
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{RefundID: refund.ID}, nil
}

type walletEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

var walletSignatureHeaders = map[string]string{
	"transmission_id":   "Paypal-Transmission-Id",
	"transmission_time": "Paypal-Transmission-Time",
	"transmission_sig":  "Paypal-Transmission-Sig",
	"cert_url":          "Paypal-Cert-Url",
	"auth_algo":         "Paypal-Auth-Algo",
}

// VerifyWebhook délègue la vérification de signature à l'endpoint du prestataire
func (w *Wallet) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (VerifiedEvent, error) {
	if w.webhookID == "" {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(w.Name(), errors.New("PAYPAL_WEBHOOK_ID non configuré"))
	}

	body := map[string]any{"webhook_id": w.webhookID}
	for field, header := range walletSignatureHeaders {
		v := headers.Get(header)
		if v == "" {
			return VerifiedEvent{}, apperr.ProviderAuthenticity(w.Name(), fmt.Errorf("en-tête %s manquant", header))
		}
		body[field] = v
	}
	if !json.Valid(payload) {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(w.Name(), errors.New("payload non JSON"))
	}
	body["webhook_event"] = json.RawMessage(payload)

	var verdict struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := w.retry.Do(ctx, w.Name(), func(ctx context.Context) error {
		return w.api.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &verdict, nil)
	})
	if err != nil {
		if apperr.Is(err, apperr.KindProviderUnavailable) {
			return VerifiedEvent{}, err
		}
		return VerifiedEvent{}, apperr.ProviderAuthenticity(w.Name(), err)
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return VerifiedEvent{}, apperr.ProviderAuthenticity(w.Name(), fmt.Errorf("verification_status=%s", verdict.VerificationStatus))
	}

	var event walletEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return VerifiedEvent{}, apperr.Validation("événement wallet illisible: %v", err)
	}

	ev := VerifiedEvent{
		EventID:    event.ID,
		EventType:  event.EventType,
		Kind:       EventIgnored,
		Reference:  event.Resource.SupplementaryData.RelatedIDs.OrderID,
		OccurredAt: event.CreateTime,
		Raw:        payload,
	}
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.Kind = EventSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		ev.Kind = EventFailed
	case "PAYMENT.CAPTURE.PENDING":
		ev.Kind = EventPending
	case "PAYMENT.CAPTURE.REFUNDED":
		ev.Kind = EventRefunded
	case "CHECKOUT.ORDER.APPROVED":
		ev.Kind = EventPending
		ev.Reference = event.Resource.ID
	case "CHECKOUT.ORDER.VOIDED":
		ev.Kind = EventCancelled
		ev.Reference = event.Resource.ID
	}
	return ev, nil
}

var _ Adapter = (*Wallet)(nil)
