package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"celo-carmarket/internal/observability"
	"celo-carmarket/internal/orchestrator"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh balance and listings periodically and serve metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if metricsAddr == "" {
			metricsAddr = a.cfg.Watch.MetricsAddr
		}
		if interval <= 0 {
			interval = a.cfg.Watch.RefreshInterval
		}

		// Handle shutdown signals
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				a.logger.Printf("Received signal %v, shutting down...", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		srv := startHTTPServer(metricsAddr, a)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()

		events, unsubscribe := a.orch.Subscribe(64)
		defer unsubscribe()
		go func() {
			for t := range events {
				if t.Err != nil {
					a.logger.Printf("%s -> %s: %v", t.From, t.To, t.Err)
				} else if a.cfg.Verbose {
					a.logger.Printf("%s -> %s", t.From, t.To)
				}
			}
		}()

		// Connect is never retried automatically; a failure needs the user again
		if err := a.connect(ctx); err != nil {
			return err
		}

		return runWatch(ctx, a, interval)
	},
}

// runWatch refreshes on every tick until ctx is canceled. Refresh errors are logged;
// losing the session ends the loop.
func runWatch(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Println("Shutdown complete")
			return nil
		case <-ticker.C:
		}

		if err := refreshTick(ctx, a.orch); err != nil {
			if errors.Is(err, orchestrator.ErrNotConnected) {
				return err
			}
			a.logger.Printf("refresh failed: %v", err)
			continue
		}
		v := a.orch.View()
		a.logger.Printf("%d listings, balance %s", len(v.Listings), balanceDisplay(v))
	}
}

// refresher is the part of the orchestrator a watch tick drives.
type refresher interface {
	View() orchestrator.View
	RefreshBalance(ctx context.Context) error
}

// refreshTick re-reads balance and listings of the connected session. It never connects.
// A busy orchestrator or a canceled context is not an error.
func refreshTick(ctx context.Context, r refresher) error {
	if !r.View().Connected {
		return orchestrator.ErrNotConnected
	}

	err := r.RefreshBalance(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrIntentInFlight), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func balanceDisplay(v orchestrator.View) string {
	if v.Balance == nil {
		return "-"
	}
	return v.Balance.Display
}

func startHTTPServer(addr string, a *app) *http.Server {
	mux := http.NewServeMux()

	// Health check reports ready only once listings are loaded
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if a.orch.State() != orchestrator.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(a.orch.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.logger.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("HTTP server error: %v", err)
		}
	}()
	return srv
}
