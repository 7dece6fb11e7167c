package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"cedra_fulfillment/internal/apperr"
)

// RetryPolicy borne chaque appel sortant (Timeout) et rejoue les erreurs transitoires
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Timeout   time.Duration
}

func DefaultRetryPolicy(timeout time.Duration, attempts int) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{Attempts: attempts, BaseDelay: 200 * time.Millisecond, Timeout: timeout}
}

type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// Transient marque une erreur rejouable (5xx, 429, coupure réseau)
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

func isTransient(err error) bool {
	var t transientError
	if errors.As(err, &t) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do exécute op ; après épuisement des tentatives, l'erreur devient ProviderUnavailable
func (p RetryPolicy) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return apperr.ProviderUnavailable(provider, ctx.Err())
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := op(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		last = err
		log.Printf("⚠️ [%s] appel prestataire échoué (tentative %d/%d): %v", provider, attempt+1, attempts, err)
	}
	return apperr.ProviderUnavailable(provider, fmt.Errorf("%d tentatives: %w", attempts, last))
}
