// Package apperr porte la taxonomie d'erreurs du tunnel de commande.
// Chaque erreur remontée au client porte un Kind qui détermine le code HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation           Kind = "validation"
	KindIdempotencyConflict  Kind = "idempotency_conflict"
	KindProviderAuthenticity Kind = "provider_authenticity"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindInvalidTransition    Kind = "invalid_transition"
	KindPrivilegeDenied      Kind = "privilege_denied"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// With ajoute un détail structuré (renvoyé tel quel dans la réponse JSON)
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func ProviderAuthenticity(provider string, err error) *Error {
	return newError(KindProviderAuthenticity, err, "signature %s invalide", provider)
}

func ProviderUnavailable(provider string, err error) *Error {
	return newError(KindProviderUnavailable, err, "fournisseur %s indisponible", provider)
}

// InvalidTransition nomme toujours l'arête tentée
func InvalidTransition(entity, from, to string) *Error {
	return newError(KindInvalidTransition, nil, "transition %s interdite: %s -> %s", entity, from, to).
		With("from", from).With("to", to)
}

func PrivilegeDenied(format string, args ...any) *Error {
	return newError(KindPrivilegeDenied, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// KindOf renvoie KindInternal pour toute erreur hors taxonomie
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindProviderAuthenticity:
		return http.StatusBadRequest
	case KindIdempotencyConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindPrivilegeDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
