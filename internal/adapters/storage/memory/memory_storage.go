// Package memory disponibiliza um counter store em memória, útil para
// desenvolvimento local e testes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

type Storage struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	count     int64
	expiresAt time.Time
}

var _ ports.CounterStore = (*Storage)(nil)

type Option func(*Storage)

// WithClock substitui o relógio usado para expirar janelas.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

func New(opts ...Option) *Storage {
	s := &Storage{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !now.Before(ent.expiresAt) {
		ent = &entry{expiresAt: now.Add(window)}
		s.entries[key] = ent
	}
	ent.count++

	return ent.count, ent.expiresAt.Sub(now), nil
}

func (s *Storage) Ping(context.Context) error {
	return nil
}

// Cleanup remove janelas expiradas e retorna quantas foram removidas.
func (s *Storage) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor chama Cleanup periodicamente até o contexto ser cancelado.
func (s *Storage) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
