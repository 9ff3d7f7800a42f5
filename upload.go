package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fedgrid/fedgrid-go/internal/plan"
	"github.com/fedgrid/fedgrid-go/internal/storage"
)

// uploadSection tags every step of an ingest plan, so a resumed run can
// skip steps belonging to other sections.
const uploadSection = "upload"

// reservedMetadataKeys are merged into every metadata file by the client
// and may not appear in user-supplied metadata.
var reservedMetadataKeys = []string{"namespace"}

func newUploadCmd() *cobra.Command {
	var (
		endpoint       string
		service        string
		namespace      string
		metadataSuffix string
		extraMetadata  string
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "upload <local-dir>",
		Short: "Upload a directory for ingestion as a resumable plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runUpload(args[0], endpoint, service, namespace, metadataSuffix, extraMetadata, debug)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "storage endpoint URL (defaults to [storage] in config)")
	cmd.Flags().StringVar(&service, "service", "", "service audience for the storage token (defaults to [storage] in config)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "data namespace to ingest into (required)")
	cmd.Flags().StringVar(&metadataSuffix, "metadata-suffix", "meta", "suffix identifying metadata files")
	cmd.Flags().StringVar(&extraMetadata, "extra-metadata", "", "extra metadata applied to every file (JSON object)")
	cmd.Flags().BoolVar(&debug, "debug", false, "describe the plan before running it")

	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

func runUpload(localDir, endpoint, service, namespace, metadataSuffix, extraMetadata string, debug bool) error {
	logger := buildLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	endpoint, service, err = resolveTarget(cfg, endpoint, service)
	if err != nil {
		return err
	}

	extra, err := parseExtraMetadata(extraMetadata)
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := storageClient(ctx, mgr, endpoint, service, logger)
	if err != nil {
		return err
	}

	p := plan.New()

	ingestDir, err := buildUploadPlan(p, localDir, namespace, metadataSuffix, extra)
	if err != nil {
		return err
	}

	logger.Info("built upload plan",
		"steps", p.Len(),
		"ingest_dir", ingestDir,
	)

	if debug {
		p.Describe(os.Stdout)
	}

	reg := plan.NewRegistry()
	storage.RegisterOps(reg, st)

	exec := plan.NewExecutor(reg, plan.RecoveryFileName, logger)

	if _, err := exec.Run(ctx, p, uploadSection); err != nil {
		var stepErr *plan.StepError
		if errors.As(err, &stepErr) && stepErr.DumpPath != "" {
			fmt.Fprintf(os.Stderr, "Plan halted; inspect %s and run 'fedgrid resume' to continue.\n", stepErr.DumpPath)
		}

		return err
	}

	statusf("Upload complete: %d steps, ingest directory %s.\n", p.Len(), ingestDir)

	return nil
}

// parseExtraMetadata decodes the --extra-metadata flag and rejects keys the
// client reserves for itself.
func parseExtraMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil, fmt.Errorf("parsing --extra-metadata: %w", err)
	}

	for _, key := range reservedMetadataKeys {
		if _, ok := extra[key]; ok {
			return nil, fmt.Errorf("metadata key %q is reserved", key)
		}
	}

	return extra, nil
}

// buildUploadPlan walks a local directory and appends the steps of an
// ingest upload: create the namespace directory and a unique ingest
// directory, mirror the local directory tree, upload data files, and
// upload metadata files with the namespace and extra metadata merged in
// (staged through temp files that the plan removes after upload).
// Returns the remote ingest directory.
func buildUploadPlan(p *plan.Plan, localDir, namespace, metadataSuffix string, extra map[string]any) (string, error) {
	p.AppendStep(uploadSection, storage.OpMkdir, map[string]any{
		"remote_path": namespace,
	})

	ingestDir := path.Join(namespace, uuid.NewString())
	p.AppendStep(uploadSection, storage.OpMkdir, map[string]any{
		"remote_path": ingestDir,
	})

	suffix := "." + strings.TrimPrefix(metadataSuffix, ".")

	err := filepath.WalkDir(localDir, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(localDir, fsPath)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		remote := path.Join(ingestDir, filepath.ToSlash(rel))

		if d.IsDir() {
			p.AppendStep(uploadSection, storage.OpMkdir, map[string]any{
				"remote_path": remote,
			})

			return nil
		}

		if strings.HasSuffix(d.Name(), suffix) {
			return appendMetadataSteps(p, fsPath, remote, namespace, extra)
		}

		p.AppendStep(uploadSection, storage.OpUpload, map[string]any{
			"from_local_path": fsPath,
			"to_remote_path":  remote,
		})

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", localDir, err)
	}

	return ingestDir, nil
}

// appendMetadataSteps stages a metadata file with the reserved and extra
// keys merged in, then appends upload and cleanup steps for it.
func appendMetadataSteps(p *plan.Plan, localPath, remotePath, namespace string, extra map[string]any) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("parsing metadata file %s: %w", localPath, err)
	}

	for _, key := range reservedMetadataKeys {
		if _, ok := metadata[key]; ok {
			return fmt.Errorf("metadata file %s uses reserved key %q", localPath, key)
		}
	}

	merged := map[string]any{"namespace": namespace}
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	tmp, err := os.CreateTemp("", "fedgrid-meta-*.json")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(merged); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	p.AppendStep(uploadSection, storage.OpUpload, map[string]any{
		"from_local_path": tmp.Name(),
		"to_remote_path":  remotePath,
	})
	p.AppendStep(uploadSection, storage.OpRemove, map[string]any{
		"path": tmp.Name(),
	})

	return nil
}
