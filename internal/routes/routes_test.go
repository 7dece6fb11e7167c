package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	adminsvc "cedra_fulfillment/internal/admin"
	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/cache"
	"cedra_fulfillment/internal/checkout"
	adminh "cedra_fulfillment/internal/handlers/admin"
	pa "cedra_fulfillment/internal/handlers/payement"
	"cedra_fulfillment/internal/handlers/user"
	"cedra_fulfillment/internal/idempotency"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
	"cedra_fulfillment/internal/providers"
	"cedra_fulfillment/internal/reconciler"
	"cedra_fulfillment/internal/utils"
)

var jwtSecret = []byte("routes-secret")

// hostedPage : prestataire à redirection de test, signature = en-tête X-Test-Sig égal à "ok"
type hostedPage struct{}

func (hostedPage) Name() string       { return models.ProviderRedirect }
func (hostedPage) SessionFirst() bool { return false }
func (hostedPage) Initiate(_ context.Context, o *models.Order) (providers.Session, error) {
	return providers.Session{Reference: "pay_" + o.OrderID, RedirectURL: "https://pay.example/" + o.OrderID}, nil
}
func (hostedPage) Capture(context.Context, string) (providers.Outcome, error) {
	return providers.OutcomeSucceeded, nil
}
func (hostedPage) Refund(context.Context, *models.Order, decimal.Decimal) (providers.RefundResult, error) {
	return providers.RefundResult{RefundID: "re_1"}, nil
}
func (h hostedPage) VerifyWebhook(_ context.Context, payload []byte, hdr http.Header) (providers.VerifiedEvent, error) {
	if hdr.Get("X-Test-Sig") != "ok" {
		return providers.VerifiedEvent{}, apperr.ProviderAuthenticity(h.Name(), errors.New("signature"))
	}
	var body struct {
		ID   string              `json:"id"`
		Kind providers.EventKind `json:"kind"`
		Ref  string              `json:"ref"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return providers.VerifiedEvent{}, apperr.ProviderAuthenticity(h.Name(), err)
	}
	return providers.VerifiedEvent{EventID: body.ID, EventType: string(body.Kind), Kind: body.Kind, Reference: body.Ref, Raw: payload}, nil
}

// fixedCatalog : un seul produit, p-1 à 15.00
type fixedCatalog struct{}

func (fixedCatalog) Lookup(_ context.Context, ref string) (models.CatalogProduct, error) {
	if ref != "p-1" {
		return models.CatalogProduct{}, checkout.ErrUnknownProduct
	}
	return models.CatalogProduct{ID: ref, Name: "Bougie", Price: decimal.RequireFromString("15.00"), IsActive: true}, nil
}

type api struct {
	t      *testing.T
	engine *gin.Engine
	store  *ledger.MemoryStore
	audit  *utils.MemoryAuditLog
	prices *cache.CatalogCache
	redis  *miniredis.Miniredis
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := ledger.NewMemoryStore()
	registry := providers.NewRegistry(hostedPage{})
	guard := idempotency.NewGuard(rdb, time.Hour)
	checkoutSvc := checkout.NewService(checkout.Options{
		Store: store, Journal: store, Guard: guard, Registry: registry, Currency: "EUR",
	})
	rec := reconciler.New(reconciler.Options{Store: store, Journal: store, Registry: registry, Events: guard})
	audit := &utils.MemoryAuditLog{}
	prices := cache.NewCatalogCache(rdb, fixedCatalog{}, time.Minute)

	r := gin.New()
	RegisterRoutes(r, Deps{
		JWTSecret:          jwtSecret,
		Redis:              rdb,
		CheckoutRatePerMin: 100,
		Audit:              audit,
		Payments:           pa.NewHandler(checkoutSvc, rec),
		Users:              user.NewHandler(store, rdb, ""),
		Admin: adminh.NewHandler(adminh.Options{
			Service:  adminsvc.NewService(store, store),
			Checkout: checkoutSvc,
			Journal:  store,
			Audit:    audit,
			Prices:   prices,
		}),
	})
	return &api{t: t, engine: r, store: store, audit: audit, prices: prices, redis: mr}
}

func (a *api) token(userID, role string) string {
	tok, err := utils.GenerateJWT(jwtSecret, utils.TokenSubject{UserID: userID, Email: userID + "@cedra.test", Role: role}, time.Hour)
	if err != nil {
		a.t.Fatal(err)
	}
	return tok
}

func (a *api) do(method, path, token string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func checkoutBody(key, total string) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_ref": "p-1", "name": "Bougie", "unit_price": "15.00", "quantity": 2},
			{"product_ref": "p-2", "name": "Vase", "unit_price": "10.00", "quantity": 1},
		},
		"shipping":        "9.99",
		"tax":             "0",
		"discount":        "0",
		"total":           total,
		"provider":        models.ProviderRedirect,
		"idempotency_key": key,
	}
}

func webhook(id string, kind providers.EventKind, ref string) []byte {
	raw, _ := json.Marshal(map[string]string{"id": id, "kind": string(kind), "ref": ref})
	return raw
}

var signed = map[string]string{"X-Test-Sig": "ok"}

func TestCheckoutToPaidOverHTTP(t *testing.T) {
	a := newAPI(t)
	customer := a.token("user-1", "customer")

	w, body := a.do(http.MethodPost, "/checkout", customer, checkoutBody("k-1", "49.99"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", w.Code, w.Body)
	}
	orderID := body["order_id"].(string)
	if body["status"] != string(models.StatusAwaitingPayment) {
		t.Fatalf("statut après checkout: %v", body["status"])
	}

	w, body = a.do(http.MethodPost, "/checkout", customer, checkoutBody("k-1", "49.99"), nil)
	if w.Code != http.StatusConflict || body["order_id"] != orderID {
		t.Fatalf("rejeu: %d %v", w.Code, body)
	}

	ref := "pay_" + orderID
	if w, _ := a.do(http.MethodPost, "/payments/redirect/webhook", "", webhook("evt-1", providers.EventSucceeded, ref), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("webhook non signé: %d", w.Code)
	}
	w, body = a.do(http.MethodPost, "/payments/redirect/webhook", "", webhook("evt-1", providers.EventSucceeded, ref), signed)
	if w.Code != http.StatusOK || body["status"] != string(reconciler.AckProcessed) {
		t.Fatalf("webhook: %d %v", w.Code, body)
	}
	w, body = a.do(http.MethodPost, "/payments/redirect/webhook", "", webhook("evt-1", providers.EventSucceeded, ref), signed)
	if w.Code != http.StatusOK || body["status"] != string(reconciler.AckDuplicate) {
		t.Fatalf("redélivrance: %d %v", w.Code, body)
	}

	w, body = a.do(http.MethodGet, "/orders/"+orderID, customer, nil, nil)
	if w.Code != http.StatusOK || body["status"] != string(models.StatusPaid) {
		t.Fatalf("lecture: %d %v", w.Code, body)
	}
	if history := body["status_history"].([]any); len(history) != 3 {
		t.Fatalf("historique: %d entrées", len(history))
	}

	if w, _ := a.do(http.MethodGet, "/orders/"+orderID, a.token("user-2", "customer"), nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("commande d'un autre client visible: %d", w.Code)
	}
	w, body = a.do(http.MethodGet, "/orders", customer, nil, nil)
	if w.Code != http.StatusOK || len(body["orders"].([]any)) != 1 {
		t.Fatalf("liste: %d %v", w.Code, body)
	}
}

func TestCheckoutRejectsTamperedTotal(t *testing.T) {
	a := newAPI(t)
	body := checkoutBody("k-2", "49.99")
	body["items"] = []map[string]any{{"product_ref": "p-1", "unit_price": "45.00", "quantity": 1}}
	body["shipping"] = "0"

	w, out := a.do(http.MethodPost, "/checkout", a.token("user-1", "customer"), body, nil)
	if w.Code != http.StatusBadRequest || out["kind"] != string(apperr.KindValidation) {
		t.Fatalf("attendu 400 validation: %d %v", w.Code, out)
	}
	if a.store.Count() != 0 {
		t.Fatal("aucune commande ne doit être persistée")
	}
}

func TestGuestCheckoutAndCapture(t *testing.T) {
	a := newAPI(t)
	body := checkoutBody("k-guest", "49.99")
	body["guest_email"] = "invite@example.com"

	w, out := a.do(http.MethodPost, "/checkout", "", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout invité: %d %v", w.Code, out)
	}
	ref := "pay_" + out["order_id"].(string)

	w, out = a.do(http.MethodPost, "/payments/redirect/capture/"+ref, "", nil, nil)
	if w.Code != http.StatusOK || out["status"] != string(models.StatusPaid) {
		t.Fatalf("capture: %d %v", w.Code, out)
	}
	if w, _ := a.do(http.MethodPost, "/payments/redirect/capture/inconnue", "", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("capture référence inconnue: %d", w.Code)
	}
}

func TestWebhookUnknownReference(t *testing.T) {
	a := newAPI(t)
	w, _ := a.do(http.MethodPost, "/payments/redirect/webhook", "", webhook("evt-x", providers.EventSucceeded, "pay_absent"), signed)
	if w.Code != http.StatusNotFound {
		t.Fatalf("attendu 404, obtenu %d", w.Code)
	}
}

func seedOrder(t *testing.T, store *ledger.MemoryStore, id string, status models.OrderStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := store.Create(context.Background(), &models.Order{
		Key:           gocql.TimeUUID(),
		OrderID:       id,
		OwnerRef:      "user-1",
		Status:        status,
		StatusHistory: []models.StatusEntry{{Status: status, At: now}},
		Provider:      models.ProviderRedirect,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestAdminDeletePrivileges(t *testing.T) {
	a := newAPI(t)
	seedOrder(t, a.store, "CMD-PAID", models.StatusPaid)
	seedOrder(t, a.store, "CMD-CANCELLED", models.StatusCancelled)
	adminTok := a.token("admin-1", "admin")

	if w, _ := a.do(http.MethodDelete, "/orders/CMD-PAID", a.token("user-1", "customer"), nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("client autorisé à supprimer: %d", w.Code)
	}
	w, out := a.do(http.MethodDelete, "/orders/CMD-PAID?reason=test", adminTok, nil, nil)
	if w.Code != http.StatusConflict || out["kind"] != string(apperr.KindInvalidTransition) {
		t.Fatalf("suppression d'une commande payée: %d %v", w.Code, out)
	}
	w, out = a.do(http.MethodDelete, "/orders/CMD-PAID?hardDelete=true", adminTok, nil, nil)
	if w.Code != http.StatusForbidden || out["kind"] != string(apperr.KindPrivilegeDenied) {
		t.Fatalf("hard delete sans élévation: %d %v", w.Code, out)
	}
	if w, _ := a.do(http.MethodDelete, "/orders/CMD-CANCELLED?reason=doublon", adminTok, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("suppression logique: %d", w.Code)
	}
	if w, _ := a.do(http.MethodGet, "/orders/CMD-CANCELLED", a.token("user-1", "customer"), nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("commande supprimée visible du client: %d", w.Code)
	}
	w, out = a.do(http.MethodGet, "/admin/orders/CMD-CANCELLED", adminTok, nil, nil)
	if w.Code != http.StatusOK || out["deleted"] != true {
		t.Fatalf("vue admin: %d %v", w.Code, out)
	}
	if w, _ := a.do(http.MethodPost, "/orders/CMD-CANCELLED/restore", adminTok, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("restauration: %d", w.Code)
	}
	if w, _ := a.do(http.MethodDelete, "/orders/CMD-PAID?hardDelete=true", a.token("root-1", "superadmin"), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("hard delete superadmin: %d", w.Code)
	}
}

func TestBulkDeleteAndStats(t *testing.T) {
	a := newAPI(t)
	seedOrder(t, a.store, "CMD-1", models.StatusCancelled)
	seedOrder(t, a.store, "CMD-2", models.StatusPending)
	adminTok := a.token("admin-1", "admin")

	w, out := a.do(http.MethodPost, "/orders/bulk-delete", adminTok, map[string]any{"ids": []string{"CMD-1", "CMD-2"}, "reason": "purge"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: %d %v", w.Code, out)
	}
	if len(out["deleted"].([]any)) != 1 || len(out["rejected"].([]any)) != 1 {
		t.Fatalf("bulk: %v", out)
	}

	w, out = a.do(http.MethodGet, "/admin/orders/stats", adminTok, nil, nil)
	if w.Code != http.StatusOK || out["total_orders"].(float64) != 1 {
		t.Fatalf("stats: %d %v", w.Code, out)
	}
}

func TestAdminRefund(t *testing.T) {
	a := newAPI(t)
	seedOrder(t, a.store, "CMD-PENDING", models.StatusPending)
	adminTok := a.token("admin-1", "admin")

	w, out := a.do(http.MethodPost, "/admin/orders/CMD-PENDING/refund", adminTok, map[string]string{"reason": "geste"}, nil)
	if w.Code != http.StatusConflict || out["kind"] != string(apperr.KindInvalidTransition) {
		t.Fatalf("remboursement d'une commande non payée: %d %v", w.Code, out)
	}
}

func (a *api) waitAudit(n int) []models.AuditLog {
	a.t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(a.audit.Entries()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return a.audit.Entries()
}

func TestAdminAuditKeepsPreviousState(t *testing.T) {
	a := newAPI(t)
	seedOrder(t, a.store, "CMD-CANCELLED", models.StatusCancelled)

	if w, _ := a.do(http.MethodDelete, "/orders/CMD-CANCELLED?reason=doublon", a.token("admin-1", "admin"), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("suppression logique: %d", w.Code)
	}
	entries := a.waitAudit(1)
	if len(entries) != 1 {
		t.Fatalf("attendu 1 entrée d'audit, obtenu %d", len(entries))
	}
	e := entries[0]
	if e.Action != utils.ACTION_ORDER_DELETE || e.ResourceID != "CMD-CANCELLED" {
		t.Fatalf("entrée: %+v", e)
	}
	var old map[string]any
	if err := json.Unmarshal([]byte(e.OldValue), &old); err != nil {
		t.Fatalf("old_value illisible %q: %v", e.OldValue, err)
	}
	if old["deleted"] != false || old["status"] != string(models.StatusCancelled) {
		t.Fatalf("état précédent: %v", old)
	}
}

func TestAdminInvalidatesCachedPrice(t *testing.T) {
	a := newAPI(t)
	if _, err := a.prices.Lookup(context.Background(), "p-1"); err != nil {
		t.Fatal(err)
	}
	if !a.redis.Exists("product_price:p-1") {
		t.Fatal("le prix devrait être en cache")
	}

	if w, _ := a.do(http.MethodDelete, "/admin/catalog/p-1/cache", a.token("user-1", "customer"), nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("client autorisé à purger le cache: %d", w.Code)
	}
	w, out := a.do(http.MethodDelete, "/admin/catalog/p-1/cache", a.token("admin-1", "admin"), nil, nil)
	if w.Code != http.StatusOK || out["invalidated"] != true {
		t.Fatalf("invalidation: %d %v", w.Code, out)
	}
	if a.redis.Exists("product_price:p-1") {
		t.Fatal("le prix est resté en cache")
	}
}
