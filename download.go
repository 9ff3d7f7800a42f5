package main

import (
	"os"
	"path"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/fedgrid/fedgrid-go/internal/storage"
)

func newDownloadCmd() *cobra.Command {
	var (
		endpoint string
		service  string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "download <remote-path>",
		Short: "Download a file from a storage endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDownload(args[0], endpoint, service, output)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "storage endpoint URL (defaults to [storage] in config)")
	cmd.Flags().StringVar(&service, "service", "", "service audience for the storage token (defaults to [storage] in config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output filename (defaults to the remote filename)")

	return cmd
}

func runDownload(remotePath, endpoint, service, output string) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	endpoint, service, err = resolveTarget(cfg, endpoint, service)
	if err != nil {
		return err
	}

	if output == "" {
		output = path.Base(remotePath)
	}

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

	progress, finish := downloadProgress(output)

	if err := st.Download(ctx, remotePath, output, progress); err != nil {
		finish()
		return err
	}

	finish()
	statusf("Downloaded %s to %s.\n", remotePath, output)

	return nil
}

// downloadProgress returns a progress callback rendering an mpb bar, and a
// finish func that completes it. Progress is only drawn on a terminal and
// never under --quiet.
func downloadProgress(name string) (storage.ProgressFunc, func()) {
	if flagQuiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil, func() {}
	}

	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(60))

	var bar *mpb.Bar

	progress := func(written, total int64) {
		if bar == nil {
			if total < 0 {
				total = 0
			}

			bar = p.AddBar(total,
				mpb.PrependDecorators(decor.Name(name+" ")),
				mpb.AppendDecorators(decor.CountersKibiByte("% .2f / % .2f")),
			)
		}

		bar.SetCurrent(written)
	}

	finish := func() {
		if bar != nil {
			// Force completion for transfers of unknown size.
			bar.SetTotal(bar.Current(), true)
			p.Wait()
		}
	}

	return progress, finish
}
