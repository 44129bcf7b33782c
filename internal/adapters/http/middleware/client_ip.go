// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIP resolve a identidade do cliente uma vez e a guarda no contexto.
// Os headers de proxy só são considerados quando trustProxyHeaders é true.
func ClientIP(trustProxyHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractIP(r, trustProxyHeaders)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
		})
	}
}

// ClientIPFromContext devolve o IP gravado por ClientIP ou "" se ausente.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func ExtractIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if xForwardedFor != "" {
			parts := strings.Split(xForwardedFor, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}

		xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
		if xRealIP != "" {
			return xRealIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}

	return host
}
