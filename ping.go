package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/authapi"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check liveness of the configured service APIs",
		RunE:  runPing,
	}
}

func runPing(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.APIs))
	for name := range cfg.APIs {
		names = append(names, name)
	}

	sort.Strings(names)

	ctx, cancel := signalContext()
	defer cancel()

	failed := 0

	for _, name := range names {
		url, err := cfg.APIURL(name)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			failed++

			continue
		}

		client := authapi.New(url, defaultHTTPClient(), logger)

		if err := client.Ping(ctx); err != nil {
			fmt.Printf("%s: FAILED (%v)\n", name, err)
			failed++

			continue
		}

		fmt.Printf("%s: OK\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d services unreachable", failed, len(names))
	}

	return nil
}
