// Package redis disponibiliza a implementação do counter store baseada em Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

// incrementScript incrementa a chave e define a expiração somente na primeira
// ocorrência da janela. Retorna {count, pttl}.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Storage struct {
	client *redis.Client
}

var _ ports.CounterStore = (*Storage)(nil)

type Config struct {
	URL string
}

// New cria o client sem exigir que o Redis esteja no ar; use Ping para verificar.
// O go-redis reconecta sozinho quando o servidor volta.
func New(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Storage{client: redis.NewClient(opts)}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *Storage) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis increment %s: unexpected reply length %d", key, len(res))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
