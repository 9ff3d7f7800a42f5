package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DeviceGrant is the authentication service's response to a device
// authorization request. The verification URI pair is presented to the user;
// rendering (QR codes and the like) is the caller's concern.
type DeviceGrant struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
}

// AuthAPI is the narrow contract the token lifecycle needs from the
// authentication service. Implemented by internal/authapi.
type AuthAPI interface {
	Ping(ctx context.Context) error
	LoginURL(ctx context.Context) (string, error)
	DeviceLogin(ctx context.Context) (*DeviceGrant, error)
	Token(ctx context.Context, code, state string) (*Bundle, error)
	DeviceToken(ctx context.Context, deviceCode string) (*Bundle, error)
	ExchangeToken(ctx context.Context, service, accessToken, refreshToken string) (*Bundle, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Bundle, error)
}

// ExchangeStrategy selects how Exchange sources its proof of identity.
type ExchangeStrategy int

const (
	// Direct exchanges an arbitrary still-live cached access token.
	Direct ExchangeStrategy = iota
	// ByRefresh exchanges an access/refresh pair, minting a fresh pair
	// first if the cached access token has already been evicted.
	ByRefresh
)

func (s ExchangeStrategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case ByRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Manager orchestrates token acquisition, exchange, refresh, persistence
// and expiry. There is no background timer: every public operation sweeps
// expired tokens before touching the cache.
type Manager struct {
	store  *Store
	auth   AuthAPI
	logger *slog.Logger
}

// NewManager wires a manager to its store and authentication service client.
func NewManager(store *Store, auth AuthAPI, logger *slog.Logger) *Manager {
	return &Manager{store: store, auth: auth, logger: logger}
}

// Store exposes the underlying cache, mainly for callers that need
// read-only snapshots (token listings) and for tests.
func (m *Manager) Store() *Store {
	return m.store
}

// LoadPersisted scans the token directory and populates the cache from any
// *.token files found. Persistence is best-effort caching, not a source of
// truth: a file that fails to parse or decode is deleted and skipped rather
// than surfaced as an error.
func (m *Manager) LoadPersisted() error {
	m.SweepExpired()

	pattern := filepath.Join(m.store.Dir(), "*"+FileExt)

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("tokens: globbing %s: %w", pattern, err)
	}

	for _, path := range paths {
		bundle, err := readBundleFile(path)
		if err == nil {
			err = m.cacheBundle(bundle, path)
		}

		if err != nil {
			m.logger.Warn("deleting unreadable token file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				m.logger.Warn("failed to remove unreadable token file",
					slog.String("path", path),
					slog.String("error", rmErr.Error()),
				)
			}
		}
	}

	return nil
}

// AccessToken returns the cached access token for a service, if one is
// still live. Pure cache read; it never triggers a network call.
func (m *Manager) AccessToken(service string) (string, bool) {
	m.SweepExpired()

	e, ok := m.store.Access(service)
	if !ok {
		return "", false
	}

	return e.Token, true
}

// Exchange obtains an access token scoped to the given service using cached
// material as proof of identity. On success the returned bundle is cached
// and, unless storeToDisk is false, persisted to the token directory.
func (m *Manager) Exchange(ctx context.Context, service string, strategy ExchangeStrategy, storeToDisk bool) error {
	m.SweepExpired()

	if err := m.auth.Ping(ctx); err != nil {
		return fmt.Errorf("tokens: authentication service unavailable: %w", err)
	}

	var (
		bundle *Bundle
		err    error
	)

	switch strategy {
	case ByRefresh:
		bundle, err = m.exchangeByRefresh(ctx, service, storeToDisk)
	default:
		bundle, err = m.exchangeDirect(ctx, service)
	}

	if err != nil {
		return err
	}

	m.logger.Info("token exchange succeeded",
		slog.String("service", service),
		slog.String("strategy", strategy.String()),
	)

	return m.CacheBundle(bundle, storeToDisk)
}

// exchangeDirect picks an arbitrary live access token and exchanges it.
func (m *Manager) exchangeDirect(ctx context.Context, service string) (*Bundle, error) {
	e, ok := m.store.AccessAny()
	if !ok {
		return nil, ErrNoAccessToken
	}

	bundle, err := m.auth.ExchangeToken(ctx, service, e.Token, "")
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	return bundle, nil
}

// exchangeByRefresh exchanges a matched access/refresh pair. When the
// access token a refresh token was issued alongside has already expired,
// the orphaned refresh token is redeemed first to mint a fresh pair, and
// that pair is what gets exchanged.
func (m *Manager) exchangeByRefresh(ctx context.Context, service string, storeToDisk bool) (*Bundle, error) {
	for _, re := range m.store.RefreshEntries() {
		ae, ok := m.matchedAccess(re)
		if !ok {
			continue
		}

		bundle, err := m.auth.ExchangeToken(ctx, service, ae.Token, re.Token)
		if err != nil {
			return nil, &ExchangeError{Err: err}
		}

		// The pair is consumed by the exchange.
		m.store.RemoveAccess(ae.Audience)
		m.store.RemoveRefresh(re.Token)

		return bundle, nil
	}

	refreshes := m.store.RefreshEntries()
	if len(refreshes) == 0 {
		return nil, ErrNoRefreshToken
	}

	orphan := refreshes[0]

	minted, err := m.auth.RefreshToken(ctx, orphan.Token)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	m.store.RemoveRefresh(orphan.Token)

	// The old refresh token is invalidated by the redemption, so the minted
	// pair is now the only credential. Cache it before attempting the
	// exchange: a transient exchange failure must not leave the user with
	// nothing.
	if err := m.CacheBundle(minted, storeToDisk); err != nil {
		return nil, err
	}

	bundle, err := m.auth.ExchangeToken(ctx, service, minted.AccessToken, minted.RefreshToken)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	m.consumePair(minted)

	return bundle, nil
}

// consumePair drops a cached access/refresh pair after it has been spent in
// an exchange.
func (m *Manager) consumePair(b *Bundle) {
	if claims, err := DecodeClaims(b.AccessToken); err == nil && claims.Audience != "" {
		m.store.RemoveAccess(claims.Audience)
	}

	if b.RefreshToken != "" {
		m.store.RemoveRefresh(b.RefreshToken)
	}
}

// matchedAccess finds the access entry a refresh token was issued
// alongside. The link is value equality on the access token string, not the
// audience — refresh token claims do not necessarily carry one.
func (m *Manager) matchedAccess(re RefreshEntry) (AccessEntry, bool) {
	for _, ae := range m.store.AccessEntries() {
		if ae.Token == re.AssociatedAccessToken {
			return ae, true
		}
	}

	return AccessEntry{}, false
}

// SweepExpired removes expired tokens from memory and deletes fully-expired
// token files. Invoked as a guard at the top of every public operation.
func (m *Manager) SweepExpired() {
	m.store.Sweep(time.Now())
}

// CacheBundle decodes a bundle's claims and inserts it into the cache,
// persisting it to a new token file unless persist is false. A bundle whose
// access token carries no audience cannot be routed and is skipped with a
// warning, mirroring how untargeted tokens have always been treated.
func (m *Manager) CacheBundle(b *Bundle, persist bool) error {
	path := MemoryOnly

	if persist {
		claims, err := DecodeClaims(b.AccessToken)
		if err != nil {
			return err
		}

		if claims.Audience == "" {
			m.logger.Warn("not caching token without audience claim")
			return nil
		}

		path, err = m.store.Persist(claims.Audience, *b)
		if err != nil {
			return err
		}
	}

	return m.cacheBundle(b, path)
}

// cacheBundle inserts a bundle's entries with the given storage location.
// Both tokens' claims are decoded before either entry is inserted, so a
// bundle with an undecodable refresh token leaves no half-cached state
// behind when the caller deletes its backing file.
func (m *Manager) cacheBundle(b *Bundle, path string) error {
	claims, err := DecodeClaims(b.AccessToken)
	if err != nil {
		return err
	}

	if claims.Audience == "" {
		m.logger.Warn("not caching token without audience claim")
		return nil
	}

	var refreshClaims Claims

	if b.RefreshToken != "" {
		refreshClaims, err = DecodeClaims(b.RefreshToken)
		if err != nil {
			return err
		}
	}

	m.store.PutAccess(AccessEntry{
		Token:     b.AccessToken,
		Audience:  claims.Audience,
		ExpiresAt: claims.ExpiresAt,
		Path:      path,
	})

	if b.RefreshToken == "" {
		return nil
	}

	m.store.PutRefresh(RefreshEntry{
		Token:                 b.RefreshToken,
		AssociatedAccessToken: b.AccessToken,
		ExpiresAt:             refreshClaims.ExpiresAt,
		Path:                  path,
	})

	return nil
}

// LoginURL asks the authentication service for a browser authorization URI.
func (m *Manager) LoginURL(ctx context.Context) (string, error) {
	m.SweepExpired()

	if err := m.auth.Ping(ctx); err != nil {
		return "", fmt.Errorf("tokens: authentication service unavailable: %w", err)
	}

	return m.auth.LoginURL(ctx)
}

// RequestToken redeems a browser-flow authorization code for a bundle and
// caches it.
func (m *Manager) RequestToken(ctx context.Context, code, state string, storeToDisk bool) error {
	m.SweepExpired()

	if err := m.auth.Ping(ctx); err != nil {
		return fmt.Errorf("tokens: authentication service unavailable: %w", err)
	}

	bundle, err := m.auth.Token(ctx, code, state)
	if err != nil {
		return &ExchangeError{Err: err}
	}

	return m.CacheBundle(bundle, storeToDisk)
}

// Inspect returns the full decoded claim map of the cached access token for
// a service. Fails with ErrNoAccessToken when none is cached.
func (m *Manager) Inspect(service string) (map[string]any, error) {
	m.SweepExpired()

	e, ok := m.store.Access(service)
	if !ok {
		return nil, fmt.Errorf("%w for service %s", ErrNoAccessToken, service)
	}

	return DecodeClaimMap(e.Token)
}

// readBundleFile parses a persisted token file.
func readBundleFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokens: reading %s: %w", path, err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("tokens: decoding %s: %w", path, err)
	}

	if b.AccessToken == "" {
		return nil, fmt.Errorf("tokens: %s missing access_token field", path)
	}

	return &b, nil
}
