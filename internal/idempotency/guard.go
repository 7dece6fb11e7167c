// Package idempotency empêche les doublons de commandes (clé de checkout) et
// le retraitement d'événements webhook déjà appliqués.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// suppression conditionnelle : on ne libère que notre propre réservation
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

var attemptNamespace = uuid.MustParse("6f1c1d8e-5a0b-4a8e-9a43-3c1f7e1f2b90")

type Reservation struct {
	Fresh bool
	// OrderID est la commande candidate si Fresh, sinon celle du gagnant
	OrderID string
}

type Guard struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewGuard(rdb redis.Cmdable, retention time.Duration) *Guard {
	return &Guard{rdb: rdb, ttl: retention}
}

func checkoutKey(key string) string {
	return fmt.Sprintf("idem:checkout:%s", key)
}

func eventKey(provider, eventID string) string {
	return fmt.Sprintf("idem:event:%s:%s", provider, eventID)
}

// DeriveKey construit une clé stable à partir de l'identifiant de tentative du client
func DeriveKey(ownerRef, attemptID string) string {
	return uuid.NewSHA1(attemptNamespace, []byte(ownerRef+"|"+attemptID)).String()
}

// Reserve associe atomiquement la clé à candidateOrderID. Le perdant d'une course
// reçoit l'order_id du gagnant.
func (g *Guard) Reserve(ctx context.Context, key, candidateOrderID string) (Reservation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.rdb.SetNX(ctx, checkoutKey(key), candidateOrderID, g.ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("réservation idempotence: %w", err)
		}
		if ok {
			return Reservation{Fresh: true, OrderID: candidateOrderID}, nil
		}

		existing, err := g.rdb.Get(ctx, checkoutKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			// expirée entre SETNX et GET
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("lecture idempotence: %w", err)
		}
		return Reservation{OrderID: existing}, nil
	}
	return Reservation{}, fmt.Errorf("réservation idempotence %s instable", key)
}

// Release libère la clé si elle appartient encore à orderID (checkout échoué avant persistance)
func (g *Guard) Release(ctx context.Context, key, orderID string) error {
	return g.rdb.Eval(ctx, releaseScript, []string{checkoutKey(key)}, orderID).Err()
}

func (g *Guard) SeenEvent(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	n, err := g.rdb.Exists(ctx, eventKey(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEvent n'est appelé qu'après un traitement réussi
func (g *Guard) MarkEvent(ctx context.Context, provider, eventID string) error {
	if eventID == "" {
		return nil
	}
	return g.rdb.Set(ctx, eventKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), g.ttl).Err()
}
