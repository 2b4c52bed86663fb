package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// StatusFunc returns a JSON-encodable snapshot of the system.
type StatusFunc func(ctx context.Context) (any, error)

// Status handles /status.
func Status(fn StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		status, err := fn(r.Context())
		if err != nil {
			slog.Error("Failed to build status", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load status")
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
