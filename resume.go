package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/plan"
	"github.com/fedgrid/fedgrid-go/internal/storage"
)

func newResumeCmd() *cobra.Command {
	var (
		file     string
		section  string
		endpoint string
		service  string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a halted plan from its recovery file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runResume(file, section, endpoint, service)
		},
	}

	cmd.Flags().StringVar(&file, "file", plan.RecoveryFileName, "plan file to resume")
	cmd.Flags().StringVar(&section, "section", "", "only run steps of this section")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "storage endpoint URL (defaults to [storage] in config)")
	cmd.Flags().StringVar(&service, "service", "", "service audience for the storage token (defaults to [storage] in config)")

	return cmd
}

func runResume(file, section, endpoint, service string) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	endpoint, service, err = resolveTarget(cfg, endpoint, service)
	if err != nil {
		return err
	}

	p, err := plan.Load(file)
	if err != nil {
		return err
	}

	logger.Info("loaded plan",
		"file", file,
		"steps", p.Len(),
		"cursor", p.Cursor,
	)

	ctx, cancel := signalContext()
	defer cancel()

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	st, err := storageClient(ctx, mgr, endpoint, service, logger)
	if err != nil {
		return err
	}

	reg := plan.NewRegistry()
	storage.RegisterOps(reg, st)

	exec := plan.NewExecutor(reg, plan.RecoveryFileName, logger)

	if _, err := exec.Run(ctx, p, section); err != nil {
		var stepErr *plan.StepError
		if errors.As(err, &stepErr) && stepErr.DumpPath != "" {
			fmt.Fprintf(os.Stderr, "Plan halted again; state saved to %s.\n", stepErr.DumpPath)
		}

		return err
	}

	statusf("Plan complete: %d steps.\n", p.Len())

	return nil
}
