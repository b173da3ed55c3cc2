package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rjooske/tabiji/internal/models"
)

const bearerPrefix = "Bearer "

// requireBearer rejects requests whose Authorization header does not carry
// token as a bearer credential.
func requireBearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("requireBearer: unauthorized", "request_id", chimw.GetReqID(r.Context()),
					"path", r.URL.Path, "remote", r.RemoteAddr, "header_set", header != "")
				w.Header().Set("WWW-Authenticate", `Bearer realm="tabiji"`)
				writeJSONResponse(w, http.StatusUnauthorized, models.Error("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
