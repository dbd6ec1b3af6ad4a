package domain

import "errors"

// ErrInsufficientBalance is returned when a debit would push an account's
// balance negative. Callers special-case it (e.g. prompting a top-up), so
// it is distinct from generic validation failures.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrPricingNotConfigured means no unit price could be resolved for the
// account and message kind. Operator-actionable, never silently defaulted.
var ErrPricingNotConfigured = errors.New("pricing not configured")
