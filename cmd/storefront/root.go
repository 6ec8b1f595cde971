package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/panyam/storefront/client"
)

// app holds what every subcommand needs once the root has been initialized
type app struct {
	cfg    *client.Config
	client *client.Client
	logger *slog.Logger
	output string
	close  func() error
}

type rootOptions struct {
	envFile     string
	apiURL      string
	store       string
	credentials string
	output      string
	timeout     time.Duration
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	cmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront API client",
		Long: `storefront talks to the storefront backend from the terminal.

Credentials are kept between runs in the configured credential store and
access tokens are renewed automatically when they expire.

Configuration is read from the environment (and a .env file):
  STOREFRONT_API_URL      backend base URL override
  STOREFRONT_MODE         development (default) or production
  STOREFRONT_ORIGIN       same-origin host used in production
  STOREFRONT_API_TIMEOUT  per-request timeout (default 30s)
  STOREFRONT_STORE        file (default), sqlite or memory
  STOREFRONT_CREDENTIALS  path of the credential file or database

Examples:
  storefront login --email owner@example.com
  storefront get /products
  storefront post /products '{"name":"Coffee","price_cents":450}'
  storefront whoami --remote`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	flags.StringVar(&opts.apiURL, "api-url", "", "Backend base URL (overrides STOREFRONT_API_URL)")
	flags.StringVar(&opts.store, "store", "", "Credential store: file, sqlite or memory")
	flags.StringVar(&opts.credentials, "credentials", "", "Path of the credential file or database")
	flags.StringVarP(&opts.output, "output", "o", "json", "Output format: json or yaml")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newRefreshCmd(a),
		newForgotPasswordCmd(a),
		newResetPasswordCmd(a),
	)
	cmd.AddCommand(newRequestCmds(a)...)
	return cmd
}

func (a *app) init(cmd *cobra.Command, opts *rootOptions) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unsupported output format %q", opts.output)
	}
	a.output = opts.output

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
		}
	}

	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	if opts.apiURL != "" {
		cfg.APIURL = opts.apiURL
	}
	if opts.store != "" {
		cfg.Store = opts.store
	}
	if opts.credentials != "" {
		cfg.CredentialsPath = opts.credentials
	}
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}
	a.cfg = cfg

	baseURL := cfg.BaseURL()
	if baseURL == "" {
		return fmt.Errorf("no backend URL: set STOREFRONT_API_URL or STOREFRONT_ORIGIN")
	}

	store, closeStore, err := openStore(cfg, baseURL)
	if err != nil {
		if errors.Is(err, errUnknownStore) {
			return err
		}
		a.logger.Warn("credential store unavailable, credentials will not persist", "store", cfg.Store, "err", err)
		store = client.NewMemoryStore()
	}
	a.close = closeStore

	session := client.NewSession(store, client.WithSessionLogger(a.logger))
	stderr := cmd.ErrOrStderr()
	session.Events().Subscribe(client.SignalAuthExpired, func(client.Event) {
		fmt.Fprintln(stderr, "Your session has expired. Run `storefront login` to sign in again.")
	})
	session.Events().Subscribe(client.SignalSubscriptionRequired, func(client.Event) {
		fmt.Fprintln(stderr, "This feature requires a paid plan.")
	})
	session.Events().Subscribe(client.SignalPlanUpdated, func(e client.Event) {
		fmt.Fprintf(stderr, "Plan changed to %v\n", e.Payload)
	})

	a.client = client.NewClientFromConfig(cfg, session, client.WithLogger(a.logger))
	a.logger.Debug("client ready", "base_url", a.client.BaseURL(), "store", cfg.Store)
	return nil
}
