// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"
)

// CounterStore incrementa atomicamente o contador de uma chave. A expiração
// é definida apenas quando a chave é criada; ttl é o tempo restante da janela.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Ping(ctx context.Context) error
}

// LocalLimiter decide localmente quando o counter store está indisponível.
type LocalLimiter interface {
	Allow(key string) (allowed bool, remaining int)
}
