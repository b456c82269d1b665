// Package handlers exposes the reconciliation service over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires every endpoint and middleware into a [mux.Router]
func NewRouter(svc Reconciler, db Pinger, logger *log.Logger) *mux.Router {
	identifyHandler := NewIdentifyHandler(svc, logger)

	middleware := []mux.MiddlewareFunc{RequestID, Logger(logger), Recovery(logger)}

	router := mux.NewRouter()
	router.Use(middleware...)

	router.HandleFunc("/identify", identifyHandler.Handle).Methods(http.MethodPost)
	router.HandleFunc("/contacts/{id}", identifyHandler.Get).Methods(http.MethodGet)
	router.HandleFunc("/health", Health(db)).Methods(http.MethodGet)

	// mux skips Use middleware for unmatched routes
	router.MethodNotAllowedHandler = chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}), middleware...)
	router.NotFoundHandler = chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	}), middleware...)

	return router
}

// chain applies middleware in the order mux.Router.Use would
func chain(h http.Handler, middleware ...mux.MiddlewareFunc) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// Health checks the database connection
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
