// Package domain concentra entidades e estruturas centrais do gateway.
package domain

import "time"

type RateLimitRule struct {
	Requests int
	Window   time.Duration
}

type RateLimitRequest struct {
	IP string
}

// Decision é o resultado de uma consulta ao rate gate.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Count     int64
	// ResetIn é o tempo restante até a janela atual expirar, quando conhecido.
	ResetIn time.Duration
	// Degraded indica que o counter store falhou e a decisão veio da fail policy.
	Degraded bool
}

// FailPolicy define o comportamento do rate gate quando o counter store não responde.
type FailPolicy string

const (
	FailClosed FailPolicy = "closed"
	FailOpen   FailPolicy = "open"
	FailLocal  FailPolicy = "local"
)

func (p FailPolicy) Valid() bool {
	switch p {
	case FailClosed, FailOpen, FailLocal:
		return true
	}
	return false
}
