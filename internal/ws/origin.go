package ws

import (
	"net/http"
	"strings"
)

// OriginChecker validates the Origin header of WebSocket upgrade requests.
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker accepts the given origins. An empty list allows only
// http://localhost:3000 for local development.
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			oc.allowed = append(oc.allowed, o)
		}
	}
	if len(oc.allowed) == 0 {
		oc.allowed = []string{"http://localhost:3000"}
	}
	return oc
}

// Check is intended as the CheckOrigin field of a gorilla/websocket
// Upgrader.
func (oc *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header: same-origin request or non-browser client.
		return true
	}
	for _, allowed := range oc.allowed {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
