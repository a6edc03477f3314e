// Package runlock keeps two scrapes of the same provider from overlapping.
package runlock

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrHeld is returned when another run already holds the provider's lock.
var ErrHeld = errors.New("a run for this provider is already in progress")

// Locker hands out one lock per provider. The returned release func is safe
// to call more than once.
type Locker interface {
	Acquire(ctx context.Context, providerID uuid.UUID) (release func(), err error)
}

// Local guards runs inside a single process.
type Local struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[uuid.UUID]bool)}
}

func (l *Local) Acquire(_ context.Context, providerID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[providerID] {
		return nil, ErrHeld
	}
	l.held[providerID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, providerID)
			l.mu.Unlock()
		})
	}, nil
}
