package statemachine

import (
	"testing"
	"time"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newPendingOrder() *models.Order {
	return &models.Order{
		OrderID:       "CMD-TEST0001",
		Status:        models.StatusPending,
		StatusHistory: NewOrderHistory("checkout", t0),
	}
}

func openSession(t *testing.T, o *models.Order, ref string) {
	t.Helper()
	applied, err := ApplyOrderEvent(o, models.TransitionEvent{
		TargetStatus:      models.StatusAwaitingPayment,
		ProviderReference: ref,
	}, "checkout", t0.Add(time.Second))
	if err != nil || !applied {
		t.Fatalf("opening session: applied=%v err=%v", applied, err)
	}
}

func TestOrderEdges(t *testing.T) {
	cases := []struct {
		from, to models.OrderStatus
		ok       bool
	}{
		{models.StatusPending, models.StatusAwaitingPayment, true},
		{models.StatusPending, models.StatusPaid, false},
		{models.StatusAwaitingPayment, models.StatusPaid, true},
		{models.StatusAwaitingPayment, models.StatusFailed, true},
		{models.StatusAwaitingPayment, models.StatusCancelled, true},
		{models.StatusAwaitingPayment, models.StatusRefunded, false},
		{models.StatusPaid, models.StatusRefunded, true},
		{models.StatusPaid, models.StatusFailed, false},
		{models.StatusCancelled, models.StatusPaid, false},
		{models.StatusRefunded, models.StatusPaid, false},
		{models.StatusFailed, models.StatusAwaitingPayment, false},
	}
	for _, tc := range cases {
		noop, err := Orders.Check(tc.from, tc.to)
		if noop {
			t.Errorf("%s -> %s reported as noop", tc.from, tc.to)
		}
		if tc.ok && err != nil {
			t.Errorf("%s -> %s should be allowed: %v", tc.from, tc.to, err)
		}
		if !tc.ok && !apperr.Is(err, apperr.KindInvalidTransition) {
			t.Errorf("%s -> %s should be rejected as invalid transition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestApplyAssignsReferenceOnce(t *testing.T) {
	o := newPendingOrder()
	openSession(t, o, "pi_123")

	if o.ProviderReference != "pi_123" || o.Status != models.StatusAwaitingPayment {
		t.Fatalf("unexpected order state: %+v", o)
	}

	_, err := ApplyOrderEvent(o, models.TransitionEvent{
		TargetStatus:      models.StatusPaid,
		ProviderReference: "pi_other",
	}, "webhook", t0.Add(2*time.Second))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected reference mismatch to be rejected, got %v", err)
	}
	if o.ProviderReference != "pi_123" || o.Status != models.StatusAwaitingPayment {
		t.Fatalf("order mutated by rejected event: %+v", o)
	}
}

func TestApplyRequiresReferenceToOpenPayment(t *testing.T) {
	o := newPendingOrder()
	_, err := ApplyOrderEvent(o, models.TransitionEvent{TargetStatus: models.StatusAwaitingPayment}, "checkout", t0)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyTerminalEventTwiceIsIdempotent(t *testing.T) {
	o := newPendingOrder()
	openSession(t, o, "pi_123")

	ev := models.TransitionEvent{TargetStatus: models.StatusPaid, ProviderReference: "pi_123", Reason: "payment_intent.succeeded"}
	applied, err := ApplyOrderEvent(o, ev, "webhook", t0.Add(2*time.Second))
	if err != nil || !applied {
		t.Fatalf("first delivery: applied=%v err=%v", applied, err)
	}
	historyLen := len(o.StatusHistory)

	applied, err = ApplyOrderEvent(o, ev, "webhook", t0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("redelivery must not fail: %v", err)
	}
	if applied {
		t.Fatal("redelivery must be a no-op")
	}
	if o.Status != models.StatusPaid || len(o.StatusHistory) != historyLen {
		t.Fatalf("redelivery changed order: status=%s history=%d", o.Status, len(o.StatusHistory))
	}
}

func TestHistoryStrictlyIncreasingWhenClockStalls(t *testing.T) {
	o := newPendingOrder()
	// même instant que l'entrée pending
	if _, err := ApplyOrderEvent(o, models.TransitionEvent{
		TargetStatus:      models.StatusAwaitingPayment,
		ProviderReference: "ref",
	}, "checkout", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyOrderEvent(o, models.TransitionEvent{
		TargetStatus:      models.StatusPaid,
		ProviderReference: "ref",
	}, "webhook", t0.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !HistoryConsistent(o) {
		t.Fatalf("history not consistent: %+v", o.StatusHistory)
	}
	if len(o.StatusHistory) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(o.StatusHistory))
	}
}

func TestRejectedTransitionLeavesOrderUntouched(t *testing.T) {
	o := newPendingOrder()
	openSession(t, o, "ref")
	if _, err := ApplyOrderEvent(o, models.TransitionEvent{TargetStatus: models.StatusCancelled, ProviderReference: "ref"}, "webhook", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	before := len(o.StatusHistory)

	_, err := ApplyOrderEvent(o, models.TransitionEvent{TargetStatus: models.StatusPaid, ProviderReference: "ref"}, "webhook", t0.Add(2*time.Hour))
	if !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if o.Status != models.StatusCancelled || len(o.StatusHistory) != before {
		t.Fatal("order mutated by rejected transition")
	}
}

func TestTerminalSet(t *testing.T) {
	for _, s := range []models.OrderStatus{models.StatusPaid, models.StatusFailed, models.StatusCancelled, models.StatusRefunded} {
		if !Orders.IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []models.OrderStatus{models.StatusPending, models.StatusAwaitingPayment} {
		if Orders.IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
