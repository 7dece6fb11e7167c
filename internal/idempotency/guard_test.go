package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

func TestReserveFresh(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuard(db, time.Hour)

	mock.ExpectSetNX("idem:checkout:k1", "CMD-1", time.Hour).SetVal(true)

	res, err := g.Reserve(context.Background(), "k1", "CMD-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fresh || res.OrderID != "CMD-1" {
		t.Fatalf("réservation = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReserveDuplicateReturnsWinner(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuard(db, time.Hour)

	mock.ExpectSetNX("idem:checkout:k1", "CMD-2", time.Hour).SetVal(false)
	mock.ExpectGet("idem:checkout:k1").SetVal("CMD-1")

	res, err := g.Reserve(context.Background(), "k1", "CMD-2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fresh || res.OrderID != "CMD-1" {
		t.Fatalf("réservation = %+v", res)
	}
}

func TestReserveRedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	g := NewGuard(db, time.Hour)

	mock.ExpectSetNX("idem:checkout:k1", "CMD-1", time.Hour).SetErr(redis.ErrClosed)

	if _, err := g.Reserve(context.Background(), "k1", "CMD-1"); err == nil {
		t.Fatal("erreur attendue")
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		fresh  int
		winner = map[string]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.Reserve(context.Background(), "same-key", "CMD-"+string(rune('A'+i)))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Fresh {
				fresh++
			}
			winner[res.OrderID]++
		}(i)
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("%d réservations fraîches, attendu 1", fresh)
	}
	if len(winner) != 1 {
		t.Fatalf("plusieurs order_id renvoyés: %v", winner)
	}
}

func TestReleaseOnlyOwnReservation(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "k", "CMD-1"); err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx, "k", "CMD-OTHER"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("idem:checkout:k") {
		t.Fatal("la réservation d'un autre ne doit pas être libérée")
	}
	if err := g.Release(ctx, "k", "CMD-1"); err != nil {
		t.Fatal(err)
	}
	res, err := g.Reserve(ctx, "k", "CMD-3")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fresh {
		t.Fatal("la clé libérée doit être réservable")
	}
}

func TestRetentionWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "k", "CMD-1"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	res, err := g.Reserve(ctx, "k", "CMD-2")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fresh {
		t.Fatal("la clé expirée doit être purgée")
	}
}

func TestEventDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	ctx := context.Background()

	seen, err := g.SeenEvent(ctx, "card", "evt_1")
	if err != nil || seen {
		t.Fatalf("seen=%v err=%v", seen, err)
	}
	if err := g.MarkEvent(ctx, "card", "evt_1"); err != nil {
		t.Fatal(err)
	}
	seen, _ = g.SeenEvent(ctx, "card", "evt_1")
	if !seen {
		t.Fatal("événement marqué non détecté")
	}
	seen, _ = g.SeenEvent(ctx, "wallet", "evt_1")
	if seen {
		t.Fatal("la déduplication est par fournisseur")
	}
}

func TestDeriveKeyStable(t *testing.T) {
	a := DeriveKey("user-1", "attempt-9")
	if a != DeriveKey("user-1", "attempt-9") {
		t.Fatal("clé non déterministe")
	}
	if a == DeriveKey("user-2", "attempt-9") {
		t.Fatal("clé identique pour deux comptes")
	}
}
