// Package nonce records consumed OAuth state nonces so a state value can be
// redeemed only once within its lifetime.
package nonce

import (
	"context"
	"sync"
	"time"

	"guildgate/pkg/platform/sentinel"
)

// InMemory is a goroutine-safe expiring set for single-process deployments.
type InMemory struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

type Option func(*InMemory)

func WithClock(clock func() time.Time) Option {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		seen:  make(map[string]time.Time),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume marks nonce used until ttl elapses. A nonce already present and not
// yet expired returns sentinel.ErrAlreadyUsed.
func (s *InMemory) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" || ttl <= 0 {
		return sentinel.ErrInvalidState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.seen[nonce]; ok && now.Before(exp) {
		return sentinel.ErrAlreadyUsed
	}
	s.seen[nonce] = now.Add(ttl)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *InMemory) Sweep() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *InMemory) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports the number of tracked nonces, expired or not.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
