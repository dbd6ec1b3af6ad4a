package dispatch

import (
	"fmt"
	"strings"
)

// ValidationError means the guard rejected the request. Nothing happened;
// the caller can correct the request and retry.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return "dispatch request rejected: " + strings.Join(e.Errors, "; ")
}

// DuplicateRequestError means the idempotency key was already used for
// this account and action. The caller should use the stored result, not
// retry.
type DuplicateRequestError struct {
	Reference string
}

func (e *DuplicateRequestError) Error() string {
	return "duplicate request, original result: " + e.Reference
}

// DispatchError wraps an exception raised during the send loop after the
// debit committed. By the time the caller sees it, the reservation has
// been fully rolled back.
type DispatchError struct {
	TransactionCode string
	Err             error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s failed after debit (reservation rolled back): %v", e.TransactionCode, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RollbackError is the one failure mode that must be escalated loudly:
// the refund after a failed dispatch itself failed, leaving funds
// reserved but neither consumed nor returned. It carries everything an
// operator needs to reconcile by hand.
type RollbackError struct {
	AccountID       string
	TransactionCode string
	DispatchErr     error
	RollbackErr     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf(
		"rollback failed for account %s transaction %s: dispatch error: %v, rollback error: %v",
		e.AccountID, e.TransactionCode, e.DispatchErr, e.RollbackErr,
	)
}

func (e *RollbackError) Unwrap() error {
	return e.RollbackErr
}
