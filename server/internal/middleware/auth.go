package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gregriff/jamsesh/server/internal/crypto"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const authKey contextKey = "authorization"

// BasicAuth mandates basic auth credentials matching username and the bcrypt passwordHash.
func BasicAuth(next http.Handler, username, passwordHash string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		user = strings.Trim(user, " ")
		if !ok {
			writeAuthError(w)
			return
		}

		userMatches := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		if err := crypto.CompareHashAndPassword(passwordHash, password); err != nil || !userMatches {
			log.WithField("remote", r.RemoteAddr).Warn("admin auth failed")
			writeAuthError(w)
			return
		}

		ctx := context.WithValue(r.Context(), authKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="jamsesh-admin"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// GetUsername is used in endpoint handlers to retrieve the authenticated admin.
func GetUsername(r *http.Request) string {
	username, _ := r.Context().Value(authKey).(string)
	return username
}
