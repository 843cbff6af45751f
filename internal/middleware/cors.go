// Package middleware holds the HTTP middleware shared by the task server's
// transports.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig defines the CORS policy for browser-based MCP clients.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a policy suitable for the streamable HTTP
// transport. DELETE is included because clients terminate sessions with it,
// and the Mcp-* headers carry session and protocol negotiation.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"https://claude.ai"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposeHeaders:    []string{"Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           3600,
	}
}

// WithOrigins replaces the allowed origins when the list is non-empty.
func (c CORSConfig) WithOrigins(origins []string) CORSConfig {
	if len(origins) > 0 {
		c.AllowOrigins = origins
	}
	return c
}

func (c CORSConfig) allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, candidate := range c.AllowOrigins {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}

// CORS returns a middleware enforcing the given policy. Requests from
// origins outside the policy are still forwarded; the browser enforces
// the block by the absence of the allow headers.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	// The policy never changes after startup, so the joined header
	// values are computed once here rather than per request.
	methods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health probes come from infrastructure, not browsers.
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			if config.allows(r.Header.Get("Origin")) {
				h.Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
			}
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			// Preflight requests are answered here without reaching the
			// MCP handler.
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			next.ServeHTTP(w, r)
		})
	}
}
