package tokens

import (
	"errors"
	"fmt"
)

// Sentinel errors for token lifecycle failures.
// Use errors.Is(err, tokens.ErrNoAccessToken) to check.
var (
	ErrNoAccessToken     = errors.New("tokens: no access token available")
	ErrNoRefreshToken    = errors.New("tokens: no refresh token available")
	ErrDeviceFlowExpired = errors.New("tokens: device authorization expired")
	ErrFlowNotStarted    = errors.New("tokens: device flow not started")
)

// ExchangeError wraps a transport failure from the authentication service
// during an exchange or refresh call.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("tokens: token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
