package middleware

import (
	"net/http"
	"strings"
)

// Origins is an origin allow-list. "*" allows any origin.
type Origins struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOrigins builds an allow-list from configured origins; trailing slashes are ignored.
func NewOrigins(origins []string) Origins {
	o := Origins{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		if origin == "*" {
			o.allowAll = true
		}
		o.allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return o
}

// Allows reports whether a browser at origin may call the API.
func (o Origins) Allows(origin string) bool {
	if o.allowAll {
		return true
	}
	_, ok := o.allowed[strings.TrimRight(origin, "/")]
	return ok
}

// CheckRequest is a websocket.Upgrader CheckOrigin func. Requests without an
// Origin header do not come from a browser and are let through.
func (o Origins) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allows(origin)
}

// CORS returns a middleware allowing the given origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	policy := NewOrigins(origins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && policy.Allows(origin) {
				if policy.allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
