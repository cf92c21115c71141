package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// DebugLogging logs every request once the handler returns. Upgraded websocket requests
// log when the channel closes.
func DebugLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
