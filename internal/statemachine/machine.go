// Package statemachine regroupe les tables de transitions des entités du tunnel de commande.
// Une seule implémentation (Machine) est paramétrée par la table propre à chaque entité.
package statemachine

import (
	"time"

	"cedra_fulfillment/internal/apperr"
)

type Machine[S ~string] struct {
	entity   string
	edges    map[S]map[S]bool
	terminal map[S]bool
}

func New[S ~string](entity string, edges map[S][]S, terminal ...S) *Machine[S] {
	m := &Machine[S]{
		entity:   entity,
		edges:    make(map[S]map[S]bool, len(edges)),
		terminal: make(map[S]bool, len(terminal)),
	}
	for from, targets := range edges {
		m.edges[from] = make(map[S]bool, len(targets))
		for _, to := range targets {
			m.edges[from][to] = true
		}
	}
	for _, s := range terminal {
		m.terminal[s] = true
	}
	return m
}

// Check valide l'arête from -> to. Une cible égale au statut courant est un no-op accepté.
func (m *Machine[S]) Check(from, to S) (noop bool, err error) {
	if from == to {
		return true, nil
	}
	if m.edges[from][to] {
		return false, nil
	}
	return false, apperr.InvalidTransition(m.entity, string(from), string(to))
}

func (m *Machine[S]) Allowed(from, to S) bool {
	return m.edges[from][to]
}

func (m *Machine[S]) IsTerminal(s S) bool {
	return m.terminal[s]
}

func (m *Machine[S]) Entity() string {
	return m.entity
}

// nextTimestamp garantit un historique strictement croissant même si l'horloge n'a pas avancé
func nextTimestamp(prev, now time.Time) time.Time {
	now = now.UTC()
	if !prev.IsZero() && !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
