package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/health/handlers"
)

// Routes are the collaborators the server exposes. Nil fields leave their endpoints unmounted.
type Routes struct {
	Controller handlers.Controller
	// Conflicts are Start errors answered with 409 instead of 500.
	Conflicts []error
	Bankroll  handlers.BankrollController
	Status    handlers.StatusFunc
	Metrics   http.Handler
}

// NewMux mounts /ping, /health, /status, /metrics and the control endpoints.
func NewMux(routes Routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", handlers.HandlePing)

	var running func() bool
	if routes.Controller != nil {
		running = routes.Controller.IsRunning
		mux.HandleFunc("/control/start", handlers.Start(routes.Controller, routes.Conflicts...))
		mux.HandleFunc("/control/stop", handlers.Stop(routes.Controller))
	}
	mux.HandleFunc("/health", handlers.Health(running))

	if routes.Bankroll != nil {
		mux.HandleFunc("/control/bankroll", handlers.Bankroll(routes.Bankroll))
	}
	if routes.Status != nil {
		mux.HandleFunc("/status", handlers.Status(routes.Status))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

// Run serves routes on cfg.Addr until ctx is done.
func Run(ctx context.Context, cfg config.HealthConfig, service string, routes Routes) error {
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("health.read_header_timeout must be positive")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewMux(routes),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("Health server listening", "service", service, "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health server error", "service", service, "error", err)
		}
	}()
	return nil
}
