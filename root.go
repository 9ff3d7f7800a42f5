package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/authapi"
	"github.com/fedgrid/fedgrid-go/internal/config"
	"github.com/fedgrid/fedgrid-go/internal/storage"
	"github.com/fedgrid/fedgrid-go/internal/tokens"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout bounds individual HTTP requests so a hung service
// cannot block a command indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fedgrid",
		Short:   "Client for FedGrid federated data services",
		Long:    "Command-line client for FedGrid: token lifecycle management and resumable data transfers.",
		Version: version,
		// Silence cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newPingCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// buildLogger creates an slog.Logger honoring --verbose and --quiet.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	if flagVerbose {
		level = slog.LevelDebug
	} else if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints the error and exits non-zero.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// signalContext returns a context canceled on SIGINT/SIGTERM. An interrupt
// mid-step fails the step, which makes the executor dump its recovery file.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig reads the config file named by --config, or the default one.
func loadConfig() (*config.Config, error) {
	return config.Load(flagConfigPath)
}

// newManager wires the token store and authentication client into a
// lifecycle manager, populating the cache from the token directory.
func newManager(cfg *config.Config, logger *slog.Logger) (*tokens.Manager, error) {
	authURL, err := cfg.APIURL("authn-api")
	if err != nil {
		return nil, err
	}

	client := authapi.New(authURL, defaultHTTPClient(), logger)
	store := tokens.NewStore(cfg.TokenDir, logger)
	mgr := tokens.NewManager(store, client, logger)

	if err := mgr.LoadPersisted(); err != nil {
		return nil, err
	}

	return mgr, nil
}

// storageClient builds an authenticated storage client for an endpoint,
// exchanging for a token scoped to the storage service when none is cached.
func storageClient(ctx context.Context, mgr *tokens.Manager, endpoint, service string, logger *slog.Logger) (storage.Storage, error) {
	token, ok := mgr.AccessToken(service)
	if !ok {
		if err := mgr.Exchange(ctx, service, tokens.ByRefresh, true); err != nil {
			return nil, fmt.Errorf("obtaining token for %s: %w", service, err)
		}

		token, ok = mgr.AccessToken(service)
		if !ok {
			return nil, fmt.Errorf("%w for service %s", tokens.ErrNoAccessToken, service)
		}
	}

	return storage.NewWebDAV(endpoint, token, logger)
}

// resolveTarget combines --endpoint/--service overrides with the configured
// storage target.
func resolveTarget(cfg *config.Config, endpoint, service string) (string, string, error) {
	if endpoint == "" {
		endpoint = cfg.Storage.Endpoint
	}

	if service == "" {
		service = cfg.Storage.Service
	}

	if endpoint == "" || service == "" {
		return "", "", fmt.Errorf("no storage target: set [storage] in the config file or pass --endpoint and --service")
	}

	return endpoint, service, nil
}
