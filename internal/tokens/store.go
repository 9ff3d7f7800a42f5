// Package tokens implements the client's token lifecycle: an in-memory
// cache of access and refresh tokens mirrored to per-bundle files on disk,
// a manager that acquires, exchanges, refreshes and expires them against
// the authentication service, and the interactive device-authorization
// flow. The cache is owned by a single process and a single session; the
// token directory is not locked.
package tokens

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MemoryOnly is the storage location of entries that are never persisted.
const MemoryOnly = "memory"

// FileExt is the extension of persisted token bundle files.
const FileExt = ".token"

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// Bundle is an access/refresh token pair as returned by the authentication
// service, and also the on-disk format of a token file. RefreshToken may be
// empty. Expiry and audience are not stored separately — they are decoded
// from the tokens themselves.
type Bundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AccessEntry is a cached access token. Unique per audience.
type AccessEntry struct {
	Token     string
	Audience  string
	ExpiresAt time.Time
	Path      string
}

// RefreshEntry is a cached refresh token, paired with the access token it
// was issued alongside by value equality. Refresh tokens do not necessarily
// carry an audience claim, so they are never deduplicated by audience.
type RefreshEntry struct {
	Token                 string
	AssociatedAccessToken string
	ExpiresAt             time.Time
	Path                  string
}

// Store is the process-wide token cache. Every mutation keeps the on-disk
// mirror consistent: removing the last live entry that references a file
// removes the file, and persisting a bundle records its path on the entries.
// Not safe for concurrent use; callers hold at most one manager per process.
type Store struct {
	dir    string
	logger *slog.Logger

	access  map[string]AccessEntry
	refresh []RefreshEntry
}

// NewStore creates an empty store rooted at the given token directory.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		access: make(map[string]AccessEntry),
	}
}

// Dir returns the token directory this store mirrors to.
func (s *Store) Dir() string {
	return s.dir
}

// PutAccess caches an access token under its audience. A previous entry for
// the same audience is replaced, and its backing file is deleted unless
// another entry still references it.
func (s *Store) PutAccess(e AccessEntry) {
	old, had := s.access[e.Audience]
	s.access[e.Audience] = e

	if had && old.Path != e.Path {
		s.removeFileIfUnreferenced(old.Path)
	}
}

// PutRefresh caches a refresh token. Multiple refresh tokens may coexist.
func (s *Store) PutRefresh(e RefreshEntry) {
	s.refresh = append(s.refresh, e)
}

// Access returns the cached access token for an audience, if any.
func (s *Store) Access(audience string) (AccessEntry, bool) {
	e, ok := s.access[audience]
	return e, ok
}

// AccessAny returns an arbitrary cached access token. Selection is
// intentionally unordered: any currently authenticated identity is equally
// valid as exchange material.
func (s *Store) AccessAny() (AccessEntry, bool) {
	for _, e := range s.access {
		return e, true
	}

	return AccessEntry{}, false
}

// AccessEntries returns a snapshot of all access entries, sorted by audience.
func (s *Store) AccessEntries() []AccessEntry {
	entries := make([]AccessEntry, 0, len(s.access))
	for _, e := range s.access {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Audience < entries[j].Audience })

	return entries
}

// RefreshEntries returns a snapshot of all refresh entries.
func (s *Store) RefreshEntries() []RefreshEntry {
	entries := make([]RefreshEntry, len(s.refresh))
	copy(entries, s.refresh)

	return entries
}

// RemoveAccess drops the access entry for an audience, deleting its backing
// file if no other entry references it. No-op for unknown audiences.
func (s *Store) RemoveAccess(audience string) {
	e, ok := s.access[audience]
	if !ok {
		return
	}

	delete(s.access, audience)
	s.removeFileIfUnreferenced(e.Path)
}

// RemoveRefresh drops the refresh entry holding the given token value,
// deleting its backing file if no other entry references it.
func (s *Store) RemoveRefresh(token string) {
	for i, e := range s.refresh {
		if e.Token != token {
			continue
		}

		s.refresh = append(s.refresh[:i], s.refresh[i+1:]...)
		s.removeFileIfUnreferenced(e.Path)

		return
	}
}

// Sweep removes every entry whose expiry has passed. A backing file is only
// deleted once all tokens sharing it have expired — a file may bundle an
// access/refresh pair, and partial expiry must not destroy the still-valid
// sibling.
func (s *Store) Sweep(now time.Time) {
	var candidates []string

	for aud, e := range s.access {
		if e.ExpiresAt.After(now) {
			continue
		}

		s.logger.Debug("removing expired access token", slog.String("audience", aud))
		delete(s.access, aud)

		candidates = append(candidates, e.Path)
	}

	kept := make([]RefreshEntry, 0, len(s.refresh))

	for _, e := range s.refresh {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
			continue
		}

		s.logger.Debug("removing expired refresh token", slog.String("path", e.Path))
		candidates = append(candidates, e.Path)
	}

	s.refresh = kept

	for _, path := range candidates {
		s.removeFileIfUnreferenced(path)
	}
}

// Persist writes a bundle to <dir>/<audience>.token atomically
// (write-to-temp + rename) with 0600 permissions and returns the path.
// Never logs token values.
func (s *Store) Persist(audience string, b Bundle) (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("tokens: encoding bundle: %w", err)
	}

	if mkErr := os.MkdirAll(s.dir, DirPerms); mkErr != nil {
		return "", fmt.Errorf("tokens: creating token directory %s: %w", s.dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return "", fmt.Errorf("tokens: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return "", fmt.Errorf("tokens: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("tokens: writing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("tokens: closing: %w", err)
	}

	path := filepath.Join(s.dir, audience+FileExt)
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("tokens: renaming: %w", err)
	}

	success = true

	return path, nil
}

// removeFileIfUnreferenced deletes a token file once no remaining entry
// points at it. Memory-only entries have no file to delete.
func (s *Store) removeFileIfUnreferenced(path string) {
	if path == "" || path == MemoryOnly {
		return
	}

	for _, e := range s.access {
		if e.Path == path {
			return
		}
	}

	for _, e := range s.refresh {
		if e.Path == path {
			return
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove token file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("removed token file", slog.String("path", path))
}
