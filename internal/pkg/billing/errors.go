package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by every gateway method when required
	// secrets are absent. Missing configuration is never a verification
	// bypass.
	ErrNotConfigured = errors.New("gateway is not configured")

	// ErrInvalidSignature rejects untrusted input before any state change.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPriceNotConfigured surfaces a configuration gap for a
	// (plan, billing cycle) pair instead of silently defaulting.
	ErrPriceNotConfigured = errors.New("no price configured for plan and billing cycle")

	// ErrUnknownGateway is returned for webhook or API calls naming a
	// gateway this deployment does not carry.
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// CancellationError wraps the underlying cause of a failed cancel call. The
// call is caller-invoked rather than webhook-invoked, so it is not ledgered,
// but re-invoking it is safe.
type CancellationError struct {
	Gateway        string
	SubscriptionID string
	Err            error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancel subscription %s on %s: %v", e.SubscriptionID, e.Gateway, e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}
