package tokens

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, auth AuthAPI) *Manager {
	t.Helper()
	return NewManager(NewStore(t.TempDir(), testLogger()), auth, testLogger())
}

func TestLoadPersisted(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testLogger())
	mgr := NewManager(store, &fakeAuth{}, testLogger())

	access := mintToken(t, "data-api", future())
	refresh := mintToken(t, "", future())

	_, err := store.Persist("data-api", Bundle{AccessToken: access, RefreshToken: refresh})
	require.NoError(t, err)

	corrupt := filepath.Join(dir, "broken.token")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))

	require.NoError(t, mgr.LoadPersisted())

	tok, ok := mgr.AccessToken("data-api")
	require.True(t, ok)
	assert.Equal(t, access, tok)

	entries := store.RefreshEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, access, entries[0].AssociatedAccessToken)

	// Corrupt files are cache noise: deleted, not reported.
	assert.NoFileExists(t, corrupt)
}

func TestLoadPersisted_UndecodableRefreshCachesNothing(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, testLogger())
	mgr := NewManager(store, &fakeAuth{}, testLogger())

	access := mintToken(t, "data-api", future())

	path, err := store.Persist("data-api", Bundle{AccessToken: access, RefreshToken: "not-a-jwt"})
	require.NoError(t, err)

	require.NoError(t, mgr.LoadPersisted())

	// The file is deleted as unreadable, and no entry may be left pointing
	// at it.
	assert.NoFileExists(t, path)
	assert.Empty(t, store.AccessEntries())
	assert.Empty(t, store.RefreshEntries())
}

func TestAccessToken_SweepsExpiredFirst(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger())
	mgr := NewManager(store, &fakeAuth{}, testLogger())

	expired := mintToken(t, "data-api", past())
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: expired}, true))

	path := filepath.Join(store.Dir(), "data-api"+FileExt)
	require.FileExists(t, path)

	_, ok := mgr.AccessToken("data-api")
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestExchange_DirectEmptyStore(t *testing.T) {
	auth := &fakeAuth{}
	mgr := newTestManager(t, auth)

	err := mgr.Exchange(context.Background(), "data-api", Direct, true)
	assert.ErrorIs(t, err, ErrNoAccessToken)
	assert.Empty(t, mgr.Store().AccessEntries())
	assert.Zero(t, auth.exchangeCalls)
}

func TestExchange_Direct(t *testing.T) {
	seeded := mintToken(t, "authn-api", future())
	newAccess := mintToken(t, "data-api", future())

	auth := &fakeAuth{
		exchangeFn: func(service, accessToken, refreshToken string) (*Bundle, error) {
			assert.Equal(t, "data-api", service)
			assert.Equal(t, seeded, accessToken)
			assert.Empty(t, refreshToken)

			return &Bundle{AccessToken: newAccess}, nil
		},
	}
	mgr := newTestManager(t, auth)

	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: seeded}, false))
	require.NoError(t, mgr.Exchange(context.Background(), "data-api", Direct, false))

	tok, ok := mgr.AccessToken("data-api")
	require.True(t, ok)
	assert.Equal(t, newAccess, tok)

	// Direct exchange does not consume the source token.
	_, ok = mgr.AccessToken("authn-api")
	assert.True(t, ok)
}

func TestExchange_ByRefreshMatched(t *testing.T) {
	seededAccess := mintToken(t, "authn-api", future())
	seededRefresh := mintToken(t, "", future())
	newAccess := mintToken(t, "data-api", future())
	newRefresh := mintToken(t, "", future())

	auth := &fakeAuth{
		exchangeFn: func(service, accessToken, refreshToken string) (*Bundle, error) {
			assert.Equal(t, "data-api", service)
			assert.Equal(t, seededAccess, accessToken)
			assert.Equal(t, seededRefresh, refreshToken)

			return &Bundle{AccessToken: newAccess, RefreshToken: newRefresh}, nil
		},
	}
	mgr := newTestManager(t, auth)

	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: seededAccess, RefreshToken: seededRefresh}, true))

	oldPath := filepath.Join(mgr.Store().Dir(), "authn-api"+FileExt)
	require.FileExists(t, oldPath)

	require.NoError(t, mgr.Exchange(context.Background(), "data-api", ByRefresh, true))

	// The consumed pair is gone, memory and disk.
	_, ok := mgr.AccessToken("authn-api")
	assert.False(t, ok)
	assert.NoFileExists(t, oldPath)

	tok, ok := mgr.AccessToken("data-api")
	require.True(t, ok)
	assert.Equal(t, newAccess, tok)
	assert.FileExists(t, filepath.Join(mgr.Store().Dir(), "data-api"+FileExt))

	refreshes := mgr.Store().RefreshEntries()
	require.Len(t, refreshes, 1)
	assert.Equal(t, newRefresh, refreshes[0].Token)
	assert.Equal(t, newAccess, refreshes[0].AssociatedAccessToken)
	assert.Equal(t, 0, auth.refreshCalls)
}

func TestExchange_ByRefreshOrphaned(t *testing.T) {
	orphanRefresh := mintToken(t, "", future())
	mintedAccess := mintToken(t, "authn-api", future())
	mintedRefresh := mintToken(t, "", future())
	newAccess := mintToken(t, "data-api", future())
	newRefresh := mintToken(t, "", future())

	auth := &fakeAuth{
		refreshFn: func(refreshToken string) (*Bundle, error) {
			assert.Equal(t, orphanRefresh, refreshToken)
			return &Bundle{AccessToken: mintedAccess, RefreshToken: mintedRefresh}, nil
		},
		exchangeFn: func(service, accessToken, refreshToken string) (*Bundle, error) {
			assert.Equal(t, mintedAccess, accessToken)
			assert.Equal(t, mintedRefresh, refreshToken)

			return &Bundle{AccessToken: newAccess, RefreshToken: newRefresh}, nil
		},
	}
	mgr := newTestManager(t, auth)

	// A refresh token whose paired access token has already been evicted.
	mgr.Store().PutRefresh(RefreshEntry{
		Token:                 orphanRefresh,
		AssociatedAccessToken: "evicted",
		ExpiresAt:             future(),
		Path:                  MemoryOnly,
	})

	require.NoError(t, mgr.Exchange(context.Background(), "data-api", ByRefresh, true))

	assert.Equal(t, 1, auth.refreshCalls)
	assert.Equal(t, 1, auth.exchangeCalls)

	tok, ok := mgr.AccessToken("data-api")
	require.True(t, ok)
	assert.Equal(t, newAccess, tok)

	refreshes := mgr.Store().RefreshEntries()
	require.Len(t, refreshes, 1)
	assert.Equal(t, newRefresh, refreshes[0].Token)
}

func TestExchange_ByRefreshOrphanedExchangeFailureKeepsMintedPair(t *testing.T) {
	orphanRefresh := mintToken(t, "", future())
	mintedAccess := mintToken(t, "authn-api", future())
	mintedRefresh := mintToken(t, "", future())

	auth := &fakeAuth{
		refreshFn: func(string) (*Bundle, error) {
			return &Bundle{AccessToken: mintedAccess, RefreshToken: mintedRefresh}, nil
		},
		exchangeFn: func(string, string, string) (*Bundle, error) {
			return nil, errors.New("exchange endpoint down")
		},
	}
	mgr := newTestManager(t, auth)

	mgr.Store().PutRefresh(RefreshEntry{
		Token:                 orphanRefresh,
		AssociatedAccessToken: "evicted",
		ExpiresAt:             future(),
		Path:                  MemoryOnly,
	})

	err := mgr.Exchange(context.Background(), "data-api", ByRefresh, true)

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)

	// Redeeming the orphan invalidated it, so the minted pair is the only
	// remaining credential and must survive the failed exchange.
	tok, ok := mgr.AccessToken("authn-api")
	require.True(t, ok)
	assert.Equal(t, mintedAccess, tok)

	refreshes := mgr.Store().RefreshEntries()
	require.Len(t, refreshes, 1)
	assert.Equal(t, mintedRefresh, refreshes[0].Token)
	assert.FileExists(t, filepath.Join(mgr.Store().Dir(), "authn-api"+FileExt))
}

func TestExchange_ByRefreshNoneAvailable(t *testing.T) {
	mgr := newTestManager(t, &fakeAuth{})

	err := mgr.Exchange(context.Background(), "data-api", ByRefresh, true)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestExchange_TransportFailure(t *testing.T) {
	seeded := mintToken(t, "authn-api", future())
	boom := errors.New("connection refused")

	auth := &fakeAuth{
		exchangeFn: func(string, string, string) (*Bundle, error) {
			return nil, boom
		},
	}
	mgr := newTestManager(t, auth)
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: seeded}, false))

	err := mgr.Exchange(context.Background(), "data-api", Direct, false)

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.ErrorIs(t, err, boom)
}

func TestExchange_ServiceUnavailable(t *testing.T) {
	auth := &fakeAuth{pingErr: errors.New("service down")}
	mgr := newTestManager(t, auth)

	err := mgr.Exchange(context.Background(), "data-api", Direct, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestExchange_NoStoreToDiskLeavesNoFile(t *testing.T) {
	seeded := mintToken(t, "authn-api", future())
	newAccess := mintToken(t, "data-api", future())

	auth := &fakeAuth{
		exchangeFn: func(string, string, string) (*Bundle, error) {
			return &Bundle{AccessToken: newAccess}, nil
		},
	}
	mgr := newTestManager(t, auth)
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: seeded}, false))

	require.NoError(t, mgr.Exchange(context.Background(), "data-api", Direct, false))

	e, ok := mgr.Store().Access("data-api")
	require.True(t, ok)
	assert.Equal(t, MemoryOnly, e.Path)
	assert.NoFileExists(t, filepath.Join(mgr.Store().Dir(), "data-api"+FileExt))
}

func TestCacheBundle_NoAudienceSkipped(t *testing.T) {
	mgr := newTestManager(t, &fakeAuth{})

	untargeted := mintToken(t, "", future())
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: untargeted}, true))

	assert.Empty(t, mgr.Store().AccessEntries())

	files, err := filepath.Glob(filepath.Join(mgr.Store().Dir(), "*"+FileExt))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestInspect(t *testing.T) {
	mgr := newTestManager(t, &fakeAuth{})

	access := mintToken(t, "data-api", future())
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: access}, false))

	claims, err := mgr.Inspect("data-api")
	require.NoError(t, err)
	assert.Contains(t, claims, "exp")

	_, err = mgr.Inspect("unknown-api")
	assert.ErrorIs(t, err, ErrNoAccessToken)
}

func TestRequestToken(t *testing.T) {
	access := mintToken(t, "authn-api", future())

	auth := &fakeAuth{
		tokenFn: func(code, state string) (*Bundle, error) {
			assert.Equal(t, "code-1", code)
			assert.Equal(t, "state-1", state)

			return &Bundle{AccessToken: access}, nil
		},
	}
	mgr := newTestManager(t, auth)

	require.NoError(t, mgr.RequestToken(context.Background(), "code-1", "state-1", false))

	_, ok := mgr.AccessToken("authn-api")
	assert.True(t, ok)
}

// Sanity check that sweep-as-guard keeps expired material out of exchanges.
func TestExchange_DirectIgnoresExpiredTokens(t *testing.T) {
	expired := mintToken(t, "authn-api", time.Now().Add(-time.Minute))

	auth := &fakeAuth{}
	mgr := newTestManager(t, auth)
	require.NoError(t, mgr.CacheBundle(&Bundle{AccessToken: expired}, false))

	err := mgr.Exchange(context.Background(), "data-api", Direct, false)
	assert.ErrorIs(t, err, ErrNoAccessToken)
	assert.Zero(t, auth.exchangeCalls)
}
