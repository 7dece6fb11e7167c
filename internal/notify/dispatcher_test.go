package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/models"
)

type sentMail struct{ to, subject string }

type fakeMailer struct {
	mu       sync.Mutex
	failures int
	sent     []sentMail
	calls    int
}

func (m *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp indisponible")
	}
	m.sent = append(m.sent, sentMail{to, subject})
	return nil
}

func (m *fakeMailer) snapshot() ([]sentMail, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...), m.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	fail     bool
}

func (p *fakePublisher) Publish(_ context.Context, channel string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("redis indisponible")
	}
	p.channels = append(p.channels, channel)
	return nil
}

func order(id string, status models.OrderStatus, email string) *models.Order {
	return &models.Order{
		OrderID:      id,
		Status:       status,
		ContactEmail: email,
		Currency:     "EUR",
		Amounts:      models.Amounts{Total: decimal.RequireFromString("49.99")},
		UpdatedAt:    time.Now(),
	}
}

func newTestDispatcher(m Mailer, p Publisher, queue int) *Dispatcher {
	d := NewDispatcher(m, p, 2, queue)
	d.baseDelay = time.Millisecond
	return d
}

func TestDispatcherPublishesAndMailsTerminalStatuses(t *testing.T) {
	m := &fakeMailer{}
	p := &fakePublisher{}
	d := newTestDispatcher(m, p, 16)
	d.Start(context.Background())

	d.OrderChanged(order("CMD-1", models.StatusPaid, "client@example.com"))
	d.OrderChanged(order("CMD-2", models.StatusAwaitingPayment, "client@example.com"))
	d.OrderChanged(order("CMD-3", models.StatusRefunded, ""))
	d.Close()

	sent, _ := m.snapshot()
	if len(sent) != 1 {
		t.Fatalf("attendu 1 e-mail, obtenu %d", len(sent))
	}
	if sent[0].to != "client@example.com" || sent[0].subject != statusSubject(models.StatusPaid) {
		t.Fatalf("e-mail inattendu: %+v", sent[0])
	}
	if len(p.channels) != 3 {
		t.Fatalf("attendu 3 publications, obtenu %d", len(p.channels))
	}
}

func TestDispatcherRetriesMailer(t *testing.T) {
	m := &fakeMailer{failures: 2}
	d := newTestDispatcher(m, nil, 4)
	d.Start(context.Background())
	d.OrderChanged(order("CMD-1", models.StatusFailed, "client@example.com"))
	d.Close()

	sent, calls := m.snapshot()
	if len(sent) != 1 || calls != 3 {
		t.Fatalf("sent=%d calls=%d", len(sent), calls)
	}
}

func TestDispatcherGivesUpWithoutPanicking(t *testing.T) {
	m := &fakeMailer{failures: 10}
	p := &fakePublisher{fail: true}
	d := newTestDispatcher(m, p, 4)
	d.Start(context.Background())
	d.OrderChanged(order("CMD-1", models.StatusCancelled, "client@example.com"))
	d.Close()

	sent, calls := m.snapshot()
	if len(sent) != 0 || calls != d.attempts {
		t.Fatalf("sent=%d calls=%d", len(sent), calls)
	}
}

func TestOrderChangedNeverBlocks(t *testing.T) {
	d := newTestDispatcher(&fakeMailer{}, &fakePublisher{}, 1)
	// pas de workers : la file se remplit
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.OrderChanged(order("CMD-X", models.StatusPaid, ""))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OrderChanged a bloqué sur une file pleine")
	}
	d.Close()
	d.OrderChanged(order("CMD-Y", models.StatusPaid, ""))
}

func TestRedisPublisherReachesSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, StatusChannel("CMD-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	d := newTestDispatcher(nil, NewRedisPublisher(rdb), 4)
	d.Start(ctx)
	d.OrderChanged(order("CMD-1", models.StatusPaid, ""))

	select {
	case msg := <-sub.Channel():
		var got StatusMessage
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatal(err)
		}
		if got.OrderID != "CMD-1" || got.Status != models.StatusPaid {
			t.Fatalf("message inattendu: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("aucun message reçu")
	}
	d.Close()
}

func TestCloseDeliversQueuedAfterCancel(t *testing.T) {
	m := &fakeMailer{}
	p := &fakePublisher{}
	d := newTestDispatcher(m, p, 16)

	// file remplie avant le démarrage des workers, puis arrêt immédiat comme dans main
	for i := 0; i < 5; i++ {
		d.OrderChanged(order(fmt.Sprintf("CMD-%d", i), models.StatusPaid, "client@example.com"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)
	d.Close()

	sent, _ := m.snapshot()
	if len(sent) != 5 {
		t.Fatalf("attendu 5 e-mails livrés après l'arrêt, obtenu %d", len(sent))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) != 5 {
		t.Fatalf("attendu 5 publications, obtenu %d", len(p.channels))
	}
}
