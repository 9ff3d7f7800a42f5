package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/fedgrid/fedgrid-go/internal/plan"
)

// Operation identifiers exposed to plans. Plans reference these strings, so
// they are part of the recovery-file format and must stay stable.
const (
	OpMkdir    = "storage.mkdir"
	OpUpload   = "storage.upload"
	OpDownload = "storage.download"
	OpRemove   = "local.remove"
)

// RegisterOps binds the storage operations to a plan registry, closing over
// a concrete storage client. local.remove is included so upload plans can
// clean up the temporary metadata files they stage.
func RegisterOps(reg *plan.Registry, st Storage) {
	reg.Register(OpMkdir, func(ctx context.Context, args map[string]any) (any, error) {
		remote, err := stringArg(args, "remote_path")
		if err != nil {
			return nil, err
		}

		return nil, st.Mkdir(ctx, remote)
	})

	reg.Register(OpUpload, func(ctx context.Context, args map[string]any) (any, error) {
		local, err := stringArg(args, "from_local_path")
		if err != nil {
			return nil, err
		}

		remote, err := stringArg(args, "to_remote_path")
		if err != nil {
			return nil, err
		}

		return nil, st.Upload(ctx, local, remote)
	})

	reg.Register(OpDownload, func(ctx context.Context, args map[string]any) (any, error) {
		remote, err := stringArg(args, "from_remote_path")
		if err != nil {
			return nil, err
		}

		local, err := stringArg(args, "to_local_path")
		if err != nil {
			return nil, err
		}

		return nil, st.Download(ctx, remote, local, nil)
	})

	reg.Register(OpRemove, func(_ context.Context, args map[string]any) (any, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}

		return nil, os.Remove(path)
	})
}

// stringArg extracts a required string argument from a step's argument map.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("storage: missing argument %q", key)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("storage: argument %q is not a string", key)
	}

	return s, nil
}
