package tokens

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

// testLogger discards output; failures are asserted, not read from logs.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mintToken builds a signed JWT with the given audience and expiry. The
// signing key is irrelevant — claims are decoded without verification.
func mintToken(t *testing.T, aud string, exp time.Time) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Issuer("https://authn.fedgrid.example").
		IssuedAt(time.Now()).
		Expiration(exp)

	if aud != "" {
		builder = builder.Audience([]string{aud})
	}

	tok, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-signing-key")))
	require.NoError(t, err)

	return string(signed)
}

// fakeAuth is a scriptable AuthAPI for manager and device flow tests.
type fakeAuth struct {
	pingErr error

	loginURL string

	deviceGrant    *DeviceGrant
	deviceGrantErr error

	deviceTokenFn func(deviceCode string) (*Bundle, error)
	tokenFn       func(code, state string) (*Bundle, error)
	exchangeFn    func(service, accessToken, refreshToken string) (*Bundle, error)
	refreshFn     func(refreshToken string) (*Bundle, error)

	deviceTokenCalls int
	exchangeCalls    int
	refreshCalls     int
}

var _ AuthAPI = (*fakeAuth)(nil)

func (f *fakeAuth) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeAuth) LoginURL(context.Context) (string, error) {
	return f.loginURL, nil
}

func (f *fakeAuth) DeviceLogin(context.Context) (*DeviceGrant, error) {
	if f.deviceGrantErr != nil {
		return nil, f.deviceGrantErr
	}

	return f.deviceGrant, nil
}

func (f *fakeAuth) Token(_ context.Context, code, state string) (*Bundle, error) {
	return f.tokenFn(code, state)
}

func (f *fakeAuth) DeviceToken(_ context.Context, deviceCode string) (*Bundle, error) {
	f.deviceTokenCalls++
	return f.deviceTokenFn(deviceCode)
}

func (f *fakeAuth) ExchangeToken(_ context.Context, service, accessToken, refreshToken string) (*Bundle, error) {
	f.exchangeCalls++
	return f.exchangeFn(service, accessToken, refreshToken)
}

func (f *fakeAuth) RefreshToken(_ context.Context, refreshToken string) (*Bundle, error) {
	f.refreshCalls++
	return f.refreshFn(refreshToken)
}
