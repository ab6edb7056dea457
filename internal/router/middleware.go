package router

import (
	"log"
	"net/http"

	"github.com/zhouzirui/z-tavern/client/internal/metrics"
)

// LoggedInFunc reports the session state for a request.
type LoggedInFunc func(r *http.Request) bool

// Middleware applies the guard to every request before it reaches next.
// Redirects use 302 Found.
func Middleware(table *Table, loggedIn LoggedInFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, outcome := table.Navigate(r.URL.Path, loggedIn(r))
			metrics.RecordGuardDecision(route.Name, outcome.String())

			if !outcome.Proceed {
				log.Printf("[guard] %s -> %s", r.URL.Path, outcome.Redirect)
				http.Redirect(w, r, outcome.Redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
