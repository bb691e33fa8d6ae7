package lease

import (
	"context"
	"errors"
	"sync"
)

var ErrOperationInProgress = errors.New("operation in progress")

// Locker hands out leases on resource keys. Acquire fails fast with
// ErrOperationInProgress when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Set tracks in-flight operations by resource key. A second caller for the
// same key is rejected rather than queued.
type Set struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSet() *Set {
	return &Set{held: make(map[string]struct{})}
}

// Acquire takes the lease for key. The returned release func is idempotent.
func (s *Set) Acquire(_ context.Context, key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[key]; ok {
		return nil, ErrOperationInProgress
	}
	s.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.held, key)
			s.mu.Unlock()
		})
	}, nil
}

// Held reports whether key currently has an operation in flight.
func (s *Set) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[key]
	return ok
}

// Key joins the parts of a compound resource id.
func Key(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '|')
		}
		b = append(b, p...)
	}
	return string(b)
}
