package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/tokens"
)

func newLoginCmd() *cobra.Command {
	var (
		maxAttempts int
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate using the device authorization flow",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogin(maxAttempts, interval)
		},
	}

	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 60, "polling attempts before giving up")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "delay between polling attempts")

	return cmd
}

func runLogin(maxAttempts int, interval time.Duration) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	flow := tokens.NewDeviceFlow(mgr, logger)

	err = flow.Begin(ctx, func(g tokens.DeviceGrant) {
		// Device code prompts must always be visible — not suppressed by --quiet.
		fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", g.VerificationURI)
		fmt.Fprintf(os.Stderr, "Enter code: %s\n", g.UserCode)

		if g.VerificationURIComplete != "" {
			fmt.Fprintf(os.Stderr, "Or open: %s\n", g.VerificationURIComplete)
		}
	})
	if err != nil {
		return err
	}

	if err := flow.Poll(ctx, maxAttempts, interval); err != nil {
		if errors.Is(err, tokens.ErrDeviceFlowExpired) {
			return fmt.Errorf("device authorization expired after %d attempts; run 'fedgrid login' again", maxAttempts)
		}

		return err
	}

	statusf("Login successful.\n")

	return nil
}
