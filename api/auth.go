/*
auth.go - Shared-secret API key middleware

PURPOSE:
  Every data endpoint requires the deployment's API key in the X-API-Key
  header. This is a single-user system; there are no accounts, roles, or
  tokens, just one secret shared between the server and its clients.

STATUS CODES:
  422 - Header missing entirely (treated as a missing required parameter)
  401 - Header present but wrong
*/
package api

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests that do not carry the expected key.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				writeError(w, http.StatusUnprocessableEntity, apiKeyHeader+" header required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
