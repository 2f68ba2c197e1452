package main

import (
	"crypto/subtle"
	"net/http"
	"os"

	"sendfleet/internal/httputil"
	"sendfleet/internal/service"

	"github.com/sirupsen/logrus"
)

// apiKeyAuth guards the operator API with a shared key from
// SENDFLEET_API_KEY. An empty key disables auth outside production;
// production refuses to serve without one.
func apiKeyAuth(logger *logrus.Logger) func(http.Handler) http.Handler {
	apiKey := os.Getenv("SENDFLEET_API_KEY")
	isProduction := os.Getenv("SENDFLEET_ENV") == "production"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				if isProduction {
					logger.Error("SENDFLEET_API_KEY is not set in production, refusing request")
					http.Error(w, "server misconfigured", http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				logger.WithField(service.LogFieldRemoteIP, httputil.ClientIP(r)).Warn("Rejected request with invalid API key")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
