// Package local implementa o limiter em processo usado quando o counter store
// está indisponível e a fail policy é "local".
package local

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

// Limiter mantém um token bucket por chave com limpeza periódica de chaves ociosas.
type Limiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	limit        rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

var _ ports.LocalLimiter = (*Limiter)(nil)

type Option func(*Limiter)

func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupEvery = d }
}

// New converte "requests por window" em um token bucket com burst = requests.
func New(requests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		entries:      make(map[string]*limiterEntry),
		limit:        rate.Every(window / time.Duration(max(requests, 1))),
		burst:        max(requests, 1),
		idleTTL:      2 * window,
		cleanupEvery: window,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Allow(key string) (bool, int) {
	lim := l.get(key)
	if !lim.Allow() {
		return false, 0
	}
	remaining := int(math.Floor(lim.Tokens()))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

func (l *Limiter) get(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

func (l *Limiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartJanitor limpa chaves ociosas até o contexto ser cancelado.
func (l *Limiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
