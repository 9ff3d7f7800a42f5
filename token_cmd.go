package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/tokens"
)

// tokenDisplayChars is how much of a token value `token list` shows.
const tokenDisplayChars = 50

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and exchange cached tokens",
	}

	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenExchangeCmd())
	cmd.AddCommand(newTokenInspectCmd())

	return cmd
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached access tokens",
		RunE:  runTokenList,
	}
}

// tokenListEntry is the JSON schema for `token list --json`.
type tokenListEntry struct {
	Service   string    `json:"service"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Path      string    `json:"path"`
}

func runTokenList(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	mgr.SweepExpired()
	entries := mgr.Store().AccessEntries()

	if flagJSON {
		out := make([]tokenListEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, tokenListEntry{
				Service:   e.Audience,
				Token:     truncate(e.Token, tokenDisplayChars),
				ExpiresAt: e.ExpiresAt.UTC(),
				Path:      e.Path,
			})
		}

		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tTOKEN\tEXPIRES (UTC)\tEXPIRES (LOCAL)\tPATH")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Audience,
			truncate(e.Token, tokenDisplayChars),
			e.ExpiresAt.UTC().Format(time.RFC3339),
			e.ExpiresAt.Local().Format(time.RFC3339),
			e.Path,
		)
	}

	return w.Flush()
}

func newTokenExchangeCmd() *cobra.Command {
	var (
		strategy string
		noStore  bool
	)

	cmd := &cobra.Command{
		Use:   "exchange <service>",
		Short: "Obtain a token scoped to a service using cached credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTokenExchange(args[0], strategy, noStore)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "refresh", "exchange strategy: direct or refresh")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "keep the new token in memory only")

	return cmd
}

func runTokenExchange(service, strategy string, noStore bool) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	var st tokens.ExchangeStrategy

	switch strategy {
	case "direct":
		st = tokens.Direct
	case "refresh":
		st = tokens.ByRefresh
	default:
		return fmt.Errorf("unknown exchange strategy %q (want direct or refresh)", strategy)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := mgr.Exchange(ctx, service, st, !noStore); err != nil {
		return err
	}

	statusf("Exchanged token for service %s.\n", service)

	return nil
}

func newTokenInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <service>",
		Short: "Show the decoded claims of a cached access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTokenInspect(args[0])
		},
	}
}

func runTokenInspect(service string) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	claims, err := mgr.Inspect(service)
	if err != nil {
		return err
	}

	return printJSON(claims)
}
