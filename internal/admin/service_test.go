package admin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/models"
)

var (
	admin      = Actor{ID: "admin-1", Email: "admin@cedra.test", Role: RoleAdmin}
	superAdmin = Actor{ID: "root-1", Email: "root@cedra.test", Role: RoleSuperAdmin}
)

func seedOrder(t *testing.T, s *ledger.MemoryStore, id string, status models.OrderStatus) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &models.Order{
		Key:           gocql.TimeUUID(),
		OrderID:       id,
		OwnerRef:      "user-1",
		Status:        status,
		StatusHistory: []models.StatusEntry{{Status: status, At: now}},
		Provider:      models.ProviderCard,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func seedBooking(s *ledger.MemoryStore, id string, status models.BookingStatus) {
	s.PutBooking(&models.Booking{
		Key:           gocql.TimeUUID(),
		BookingID:     id,
		OwnerRef:      "user-1",
		ResourceRef:   "salle-A",
		Status:        status,
		StatusHistory: []models.BookingStatusEntry{{Status: status, At: time.Now().Add(-time.Hour)}},
	})
}

func newService() (*Service, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	return NewService(store, store), store
}

func TestSoftDeleteRequiresCancelled(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedOrder(t, store, "CMD-PAID", models.StatusPaid)
	seedOrder(t, store, "CMD-PENDING", models.StatusPending)

	for _, id := range []string{"CMD-PAID", "CMD-PENDING"} {
		_, err := svc.DeleteOrder(ctx, admin, id, "nettoyage", false)
		if !apperr.Is(err, apperr.KindInvalidTransition) {
			t.Fatalf("%s: attendu InvalidTransition, obtenu %v", id, err)
		}
		o, _ := store.Get(ctx, id)
		if o.Deleted || o.Version != 1 {
			t.Fatalf("%s modifiée malgré le refus", id)
		}
	}
}

func TestSoftDeleteAndRestoreKeepStatus(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedOrder(t, store, "CMD-1", models.StatusCancelled)

	res, err := svc.DeleteOrder(ctx, admin, "CMD-1", "doublon", false)
	if err != nil || !res.Changed || res.Mode != DeleteSoft {
		t.Fatalf("suppression: %+v %v", res, err)
	}
	o, _ := store.Get(ctx, "CMD-1")
	if !o.Deleted || o.DeletedBy != admin.Email || o.DeletionReason != "doublon" || o.DeletedAt == nil {
		t.Fatalf("champs de suppression: %+v", o.SoftDelete)
	}

	again, err := svc.DeleteOrder(ctx, admin, "CMD-1", "doublon", false)
	if err != nil || again.Changed {
		t.Fatalf("deuxième suppression devrait être un no-op: %+v %v", again, err)
	}

	restored, err := svc.RestoreOrder(ctx, admin, "CMD-1")
	if err != nil {
		t.Fatal(err)
	}
	if restored.Deleted || restored.Status != models.StatusCancelled || len(restored.StatusHistory) != 1 {
		t.Fatalf("restauration incorrecte: %+v", restored)
	}
}

func TestHardDeleteNeedsElevation(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedOrder(t, store, "CMD-1", models.StatusPending)

	if _, err := svc.DeleteOrder(ctx, admin, "CMD-1", "rgpd", true); !apperr.Is(err, apperr.KindPrivilegeDenied) {
		t.Fatalf("attendu PrivilegeDenied, obtenu %v", err)
	}
	if _, err := store.Get(ctx, "CMD-1"); err != nil {
		t.Fatal("la commande ne doit pas avoir été supprimée")
	}

	res, err := svc.DeleteOrder(ctx, superAdmin, "CMD-1", "rgpd", true)
	if err != nil || res.Mode != DeleteHard {
		t.Fatalf("hard delete: %+v %v", res, err)
	}
	if _, err := store.Get(ctx, "CMD-1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("commande toujours présente: %v", err)
	}
	if _, err := svc.DeleteOrder(ctx, superAdmin, "CMD-1", "rgpd", true); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("attendu NotFound, obtenu %v", err)
	}
}

func TestBulkDeleteReportsRejections(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedOrder(t, store, fmt.Sprintf("CMD-C%d", i), models.StatusCancelled)
	}
	seedOrder(t, store, "CMD-PAID", models.StatusPaid)

	ids := []string{"CMD-C0", "CMD-C1", "CMD-C2", "CMD-C3", "CMD-C4", "CMD-PAID", "CMD-MISSING", "CMD-C0"}
	res, err := svc.BulkDeleteOrders(ctx, admin, ids, "purge", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deleted) != 5 || len(res.Rejected) != 2 {
		t.Fatalf("deleted=%d rejected=%d", len(res.Deleted), len(res.Rejected))
	}
	kinds := map[string]apperr.Kind{}
	for _, r := range res.Rejected {
		kinds[r.ID] = r.Kind
	}
	if kinds["CMD-PAID"] != apperr.KindInvalidTransition || kinds["CMD-MISSING"] != apperr.KindNotFound {
		t.Fatalf("refus inattendus: %+v", kinds)
	}
}

func TestBulkValidation(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.BulkDeleteOrders(context.Background(), admin, nil, "", false); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("lot vide: %v", err)
	}
	many := make([]string, maxBulkSize+1)
	for i := range many {
		many[i] = fmt.Sprintf("CMD-%d", i)
	}
	if _, err := svc.BulkDeleteOrders(context.Background(), admin, many, "", false); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("lot trop grand: %v", err)
	}
}

func TestBookingDeleteFollowsOrderRules(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedBooking(store, "BK-1", models.BookingConfirmed)
	seedBooking(store, "BK-2", models.BookingCancelled)

	if _, err := svc.DeleteBooking(ctx, admin, "BK-1", "", false); !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("attendu InvalidTransition: %v", err)
	}
	res, err := svc.BulkDeleteBookings(ctx, admin, []string{"BK-1", "BK-2"}, "purge", false)
	if err != nil || len(res.Deleted) != 1 || len(res.Rejected) != 1 {
		t.Fatalf("lot réservations: %+v %v", res, err)
	}
	b, err := svc.RestoreBooking(ctx, admin, "BK-2")
	if err != nil || b.Deleted || b.Status != models.BookingCancelled {
		t.Fatalf("restauration: %+v %v", b, err)
	}
	if _, err := svc.DeleteBooking(ctx, admin, "BK-1", "", true); !apperr.Is(err, apperr.KindPrivilegeDenied) {
		t.Fatalf("attendu PrivilegeDenied: %v", err)
	}
}

func TestTransitionBooking(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedBooking(store, "BK-1", models.BookingPending)

	b, err := svc.TransitionBooking(ctx, admin, "BK-1", models.BookingConfirmed, "acompte reçu")
	if err != nil || b.Status != models.BookingConfirmed || len(b.StatusHistory) != 2 {
		t.Fatalf("confirmation: %+v %v", b, err)
	}
	if _, err := svc.TransitionBooking(ctx, admin, "BK-1", models.BookingPending, ""); !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("retour arrière accepté: %v", err)
	}
	b, err = svc.TransitionBooking(ctx, admin, "BK-1", models.BookingConfirmed, "")
	if err != nil || len(b.StatusHistory) != 2 {
		t.Fatalf("transition identique doit être un no-op: %+v %v", b, err)
	}
	if _, err := svc.TransitionBooking(ctx, admin, "BK-404", models.BookingConfirmed, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("attendu NotFound: %v", err)
	}
}

func TestStatsIgnoreSoftDeleted(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	seedOrder(t, store, "CMD-1", models.StatusCancelled)
	seedOrder(t, store, "CMD-2", models.StatusCancelled)
	if _, err := svc.DeleteOrder(ctx, admin, "CMD-1", "", false); err != nil {
		t.Fatal(err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil || stats.TotalOrders != 1 {
		t.Fatalf("stats: %+v %v", stats, err)
	}
	if o, err := svc.GetOrder(ctx, "CMD-1"); err != nil || !o.Deleted {
		t.Fatalf("l'admin doit voir la commande supprimée: %v", err)
	}
}
