package middleware

import (
	"net/http"
	"strings"
)

// CORS wraps the whole router so OPTIONS preflight requests are answered
// before mux routing, which would 404 on OPTIONS. With a single configured
// origin that origin is always sent, for local development.
func CORS(allowed []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool)
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origins["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			case len(origins) == 1:
				for o := range origins {
					w.Header().Set("Access-Control-Allow-Origin", o)
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range, "+RequestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, "+RequestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
