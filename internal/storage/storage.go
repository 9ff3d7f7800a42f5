// Package storage defines the narrow contract the client needs from a
// remote storage endpoint — make directories, move files both ways, list —
// and a WebDAV implementation of it. Protocol-specific failures are
// translated into the package's own error taxonomy so callers never see
// transport types.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ProgressFunc is called back as a download proceeds. total is -1 when the
// remote size is unknown.
type ProgressFunc func(written, total int64)

// Storage is one transfer-protocol client bound to a single endpoint and
// access token. Implementations block until the operation completes.
type Storage interface {
	Mkdir(ctx context.Context, remotePath string) error
	Upload(ctx context.Context, fromLocal, toRemote string) error
	Download(ctx context.Context, fromRemote, toLocal string, progress ProgressFunc) error
	List(ctx context.Context, remotePath string) ([]os.FileInfo, error)
}

// Sentinel errors distinguishing which storage operation failed.
// Use errors.Is(err, storage.ErrUploadFailed) to check.
var (
	ErrMkdirFailed    = errors.New("storage: mkdir failed")
	ErrUploadFailed   = errors.New("storage: upload failed")
	ErrDownloadFailed = errors.New("storage: download failed")
	ErrListFailed     = errors.New("storage: list failed")
)

// OpError wraps a protocol-specific failure with the operation kind and the
// remote path it targeted.
type OpError struct {
	Op    string // "mkdir", "upload", "download", "list"
	Path  string
	Kind  error // sentinel, for errors.Is()
	Cause error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}
