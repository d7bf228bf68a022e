package billing

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrPlanNotConfigured   = errors.New("plan not configured")
	ErrNoActivePlan        = errors.New("no active paid plan")
	ErrPlanNotFound        = fmt.Errorf("%w: plan not found", ErrNoActivePlan)
	ErrNoOpPlanChange      = errors.New("cannot change to the same plan")
	ErrAlreadyCanceled     = errors.New("subscription is already canceled")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrRecordNotFound      = errors.New("subscription record not found")
)

// ErrSubscriptionNotRecorded marks an invoice for a subscription whose created
// event has not been applied yet. It is dead-lettered and retried.
var ErrSubscriptionNotRecorded = errors.New("subscription not recorded yet")

// ProviderError wraps any failure talking to the payment provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}
