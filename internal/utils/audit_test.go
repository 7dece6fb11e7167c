package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cedra_fulfillment/internal/models"
)

func TestLogActionCapturesRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &MemoryAuditLog{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/orders/CMD-1", nil)
	c.Request.Header.Set("User-Agent", "cedra-test")
	c.Request.Header.Set("X-Session-ID", "sess-1")
	c.Set("user_id", "admin-1")
	c.Set("email", "admin@cedra.test")

	LogAction(sink, c, ACTION_ORDER_DELETE, RESOURCE_ORDER, "CMD-1", nil, map[string]bool{"deleted": true})
	LogFailedAction(sink, c, ACTION_ORDER_HARD_DELETE, RESOURCE_ORDER, "CMD-1", "privilège insuffisant")

	deadline := time.Now().Add(time.Second)
	for len(sink.Entries()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	entries := sink.Entries()
	if len(entries) != 2 {
		t.Fatalf("attendu 2 entrées, obtenu %d", len(entries))
	}
	for _, e := range entries {
		if e.UserID != "admin-1" || e.UserEmail != "admin@cedra.test" || e.SessionID != "sess-1" || e.UserAgent != "cedra-test" {
			t.Fatalf("entrée incomplète: %+v", e)
		}
		switch e.Action {
		case ACTION_ORDER_DELETE:
			if !e.Success || e.NewValue != `{"deleted":true}` {
				t.Fatalf("succès mal tracé: %+v", e)
			}
		case ACTION_ORDER_HARD_DELETE:
			if e.Success || e.ErrorMsg == "" {
				t.Fatalf("échec mal tracé: %+v", e)
			}
		}
	}
}

func TestGenerateJWTRoundTripClaims(t *testing.T) {
	tok, err := GenerateJWT([]byte("secret"), TokenSubject{UserID: "u1", Email: "u1@cedra.test", Role: "admin"}, time.Hour)
	if err != nil || tok == "" {
		t.Fatalf("jeton: %q %v", tok, err)
	}
}

func TestMemoryAuditLogFilters(t *testing.T) {
	sink := &MemoryAuditLog{}
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = sink.Record(ctx, models.AuditLog{Action: ACTION_ORDER_DELETE, Resource: RESOURCE_ORDER, ResourceID: "CMD-1", Timestamp: base})
	_ = sink.Record(ctx, models.AuditLog{Action: ACTION_ORDER_RESTORE, Resource: RESOURCE_ORDER, ResourceID: "CMD-1", Timestamp: base.Add(time.Minute)})
	_ = sink.Record(ctx, models.AuditLog{Action: ACTION_BOOKING_DELETE, Resource: RESOURCE_BOOKING, ResourceID: "BK-1", Timestamp: base})

	logs, _ := sink.List(ctx, AuditFilter{Resource: RESOURCE_ORDER, ResourceID: "CMD-1"})
	if len(logs) != 2 || logs[0].Action != ACTION_ORDER_RESTORE {
		t.Fatalf("filtre ressource: %+v", logs)
	}
	logs, _ = sink.List(ctx, AuditFilter{Limit: 1})
	if len(logs) != 1 {
		t.Fatalf("limite ignorée: %d", len(logs))
	}
}
