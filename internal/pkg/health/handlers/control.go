package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// Controller starts and stops the monitored system.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// BankrollController opens and closes the bankroll.
type BankrollController interface {
	SetBankrollActive(ctx context.Context, active bool) error
}

// Start handles POST /control/start. Errors listed in conflict are answered with 409.
func Start(c Controller, conflict ...error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := c.Start(r.Context()); err != nil {
			for _, target := range conflict {
				if errors.Is(err, target) {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
			}
			slog.Error("Failed to start system", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start")
			return
		}
		slog.Info("System started via control endpoint", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]bool{"running": c.IsRunning()})
	}
}

// Stop handles POST /control/stop.
func Stop(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		c.Stop()
		slog.Info("System stopped via control endpoint", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]bool{"running": c.IsRunning()})
	}
}

// Bankroll handles POST /control/bankroll?active=true|false.
func Bankroll(c BankrollController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		active, err := strconv.ParseBool(r.URL.Query().Get("active"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		if err := c.SetBankrollActive(r.Context(), active); err != nil {
			slog.Error("Failed to update bankroll", "active", active, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update bankroll")
			return
		}
		slog.Info("Bankroll updated via control endpoint", "active", active, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	}
}
