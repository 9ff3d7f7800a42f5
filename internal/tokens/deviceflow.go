package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeviceFlowState tracks progress through the device authorization
// handshake: NotStarted → AwaitingUser → {Authorized, Expired}.
type DeviceFlowState int

const (
	StateNotStarted DeviceFlowState = iota
	StateAwaitingUser
	StateAuthorized
	StateExpired
)

func (s DeviceFlowState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateAwaitingUser:
		return "awaiting-user"
	case StateAuthorized:
		return "authorized"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeviceFlow drives the interactive device authorization handshake: request
// a grant, show the user code out-of-band, then poll the authentication
// service until the user completes login or the attempt budget runs out.
// Polling is the only retry loop in the client and it is strictly
// time-bounded; it ends only on attempt exhaustion or a canceled context.
type DeviceFlow struct {
	manager *Manager
	logger  *slog.Logger

	state DeviceFlowState
	grant *DeviceGrant
}

// NewDeviceFlow creates a device flow that caches tokens through the
// given manager on success.
func NewDeviceFlow(m *Manager, logger *slog.Logger) *DeviceFlow {
	return &DeviceFlow{manager: m, logger: logger, state: StateNotStarted}
}

// State returns the current flow state.
func (f *DeviceFlow) State() DeviceFlowState {
	return f.state
}

// Begin requests a device authorization grant and hands the user and
// verification codes to display. How they are presented (plain text, QR) is
// entirely the caller's concern.
func (f *DeviceFlow) Begin(ctx context.Context, display func(DeviceGrant)) error {
	f.manager.SweepExpired()

	if err := f.manager.auth.Ping(ctx); err != nil {
		return fmt.Errorf("tokens: authentication service unavailable: %w", err)
	}

	grant, err := f.manager.auth.DeviceLogin(ctx)
	if err != nil {
		return fmt.Errorf("tokens: device authorization request failed: %w", err)
	}

	f.grant = grant
	f.state = StateAwaitingUser

	f.logger.Info("device authorization started, waiting for user")

	display(*grant)

	return nil
}

// Poll blocks, retrying token retrieval up to maxAttempts times with the
// given interval between attempts. Each failed attempt is swallowed; only
// exhaustion and context cancellation are terminal. On success the bundle is
// cached and persisted and the flow ends Authorized; on exhaustion it ends
// Expired with no partial credential state retained. A canceled context
// (the CLI routes SIGINT/SIGTERM here) aborts between attempts and returns
// the context's error, leaving the flow AwaitingUser.
func (f *DeviceFlow) Poll(ctx context.Context, maxAttempts int, interval time.Duration) error {
	if f.state != StateAwaitingUser {
		return ErrFlowNotStarted
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		bundle, err := f.manager.auth.DeviceToken(ctx, f.grant.DeviceCode)
		if err == nil {
			f.state = StateAuthorized
			f.logger.Info("device authorization complete", slog.Int("attempts", attempt))

			return f.manager.CacheBundle(bundle, true)
		}

		f.logger.Debug("authorization pending",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()),
		)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	f.state = StateExpired

	return ErrDeviceFlowExpired
}
