// Command devbackend runs the in-memory development backend with a seeded
// owner account, so the storefront client can be exercised without the real
// API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/panyam/storefront/devserver"
)

type options struct {
	addr       string
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	latency    time.Duration
	seedEmail  string
	seedPass   string
	seedPlan   string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "devbackend",
		Short: "Run the storefront development backend",
		Long: `devbackend serves the storefront API from memory on --addr.

A tenant owner is created from --seed-email and --seed-password. Short
--access-ttl values are useful for watching clients renew their tokens.

Examples:
  devbackend --addr :8080
  devbackend --access-ttl 30s --seed-plan pro`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", envOr("DEVBACKEND_ADDR", ":8080"), "Listen address")
	flags.StringVar(&opts.secret, "secret", os.Getenv("DEVBACKEND_SECRET"), "HMAC secret for access tokens (random when empty)")
	flags.DurationVar(&opts.accessTTL, "access-ttl", devserver.DefaultAccessTokenTTL, "Access token lifetime")
	flags.DurationVar(&opts.refreshTTL, "refresh-ttl", devserver.DefaultRefreshTokenTTL, "Refresh token lifetime")
	flags.DurationVar(&opts.latency, "latency", 0, "Artificial delay added to every API response")
	flags.StringVar(&opts.seedEmail, "seed-email", "owner@example.com", "Email of the seeded owner")
	flags.StringVar(&opts.seedPass, "seed-password", "password123", "Password of the seeded owner")
	flags.StringVar(&opts.seedPlan, "seed-plan", devserver.PlanFree, "Plan of the seeded tenant: free or pro")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func serve(ctx context.Context, opts *options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := devserver.New(
		devserver.WithLogger(logger),
		devserver.WithSecret(opts.secret),
		devserver.WithAccessTokenTTL(opts.accessTTL),
		devserver.WithRefreshTokenTTL(opts.refreshTTL),
		devserver.WithLatency(opts.latency),
	)
	if opts.seedEmail != "" {
		u, err := srv.AddUser(devserver.User{
			Name:         "Owner",
			Email:        opts.seedEmail,
			BusinessName: "Demo Store",
			Plan:         opts.seedPlan,
		}, opts.seedPass)
		if err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
		logger.Info("seeded owner", "email", u.Email, "tenant_id", u.TenantID, "plan", u.Plan)
	}

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
