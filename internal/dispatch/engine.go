package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/internal/guard"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// Small internal interfaces so the engine can be tested with fakes
// instead of a real ledger, gateway or Valkey.
type ledger interface {
	Debit(ctx context.Context, accountID string, amountCents int64, transactionCode, reason string, metadata map[string]string) (*domain.LedgerEntry, error)
	Credit(ctx context.Context, accountID string, amountCents int64, originalTransactionCode, reason string, metadata map[string]string) (*domain.LedgerEntry, error)
	CurrentBalance(ctx context.Context, accountID string) (int64, error)
	HasSufficientBalance(ctx context.Context, accountID string, amountCents int64) (bool, error)
}

type guardPipeline interface {
	ValidateAll(ctx context.Context, in guard.ValidateInput) (*guard.ValidationReport, error)
	IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error)
	MarkRecipientSent(ctx context.Context, accountID, normalizedPhone string) error
}

// sender is the external transport. Ordinary per-recipient delivery
// failures come back as a failed outcome; an error return means the
// transport itself broke and the whole dispatch must be rolled back.
type sender interface {
	Send(ctx context.Context, recipient domain.Recipient, content domain.TemplateContent) (*domain.SendOutcome, error)
}

type pricingSource interface {
	CurrentUnitPrice(ctx context.Context, accountID string, kind domain.MessageKind) (int64, error)
}

type idempotencyWriter interface {
	StoreIdempotencyResult(ctx context.Context, key, accountID, action, reference string, ttl time.Duration) (bool, error)
}

// quotaReserver takes quota atomically at admission; the unsent share is
// released back during reconcile. The take and the refusal are a single
// atomic step, so two concurrent dispatches can never jointly overdraw
// the counter.
type quotaReserver interface {
	ReserveQuota(ctx context.Context, accountID string, n int64) (int64, bool, error)
	ReleaseQuota(ctx context.Context, accountID string, n int64) error
}

// throttleSource supplies the delay profile applied between sends for
// risk-scored accounts. Optional; nil disables pacing.
type throttleSource interface {
	ThrottleLevel(ctx context.Context, accountID string) (domain.ThrottleProfile, error)
}

type Config struct {
	IdempotencyTTL  time.Duration
	ThrottledDelays bool
	// SendTimeout bounds each individual gateway call. Zero disables the
	// per-send deadline.
	SendTimeout time.Duration
}

// Engine owns the reserve → send → reconcile lifecycle for one dispatch
// request. The debit is strictly ordered before any send attempt, and
// refunds strictly after the send loop finishes or aborts. Once the debit
// commits the engine either reconciles or fully rolls back; it never
// leaves a reservation dangling silently.
type Engine struct {
	ledger      ledger
	guard       guardPipeline
	sender      sender
	pricing     pricingSource
	idempotency idempotencyWriter
	quotas      quotaReserver
	throttle    throttleSource
	cfg         Config
}

func NewEngine(
	ledger ledger,
	guard guardPipeline,
	sender sender,
	pricing pricingSource,
	idempotency idempotencyWriter,
	quotas quotaReserver,
	throttle throttleSource,
	cfg Config,
) *Engine {
	return &Engine{
		ledger:      ledger,
		guard:       guard,
		sender:      sender,
		pricing:     pricing,
		idempotency: idempotency,
		quotas:      quotas,
		throttle:    throttle,
		cfg:         cfg,
	}
}

// Dispatch validates, reserves, sends and reconciles one request.
// Typed failures: *ValidationError and *DuplicateRequestError mean no
// side effect happened; domain.ErrInsufficientBalance and
// domain.ErrPricingNotConfigured likewise precede any debit.
// *DispatchError means the reservation was rolled back; *RollbackError
// means the rollback itself failed and needs operator attention.
func (e *Engine) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error) {
	if len(req.Recipients) == 0 {
		return nil, &ValidationError{Errors: []string{"recipients must not be empty"}}
	}

	recipients := dedupeRecipients(req.Recipients)

	report, err := e.guard.ValidateAll(ctx, guard.ValidateInput{
		AccountID:      req.AccountID,
		RecipientCount: len(recipients),
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("guard validation failed: %w", err)
	}
	if report.Duplicate {
		return nil, &DuplicateRequestError{Reference: report.ExistingReference}
	}
	if !report.Valid {
		return nil, &ValidationError{Errors: report.Errors, Warnings: report.Warnings}
	}

	unitPrice, err := e.pricing.CurrentUnitPrice(ctx, req.AccountID, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit price for account %s: %w", req.AccountID, err)
	}

	// The guard's quota check is a plain read; the binding take happens
	// here so a concurrent dispatch racing past validation still cannot
	// overdraw the counter.
	if _, ok, err := e.quotas.ReserveQuota(ctx, req.AccountID, int64(len(recipients))); err != nil {
		return nil, fmt.Errorf("failed to reserve message quota: %w", err)
	} else if !ok {
		return nil, &ValidationError{Errors: []string{fmt.Sprintf(
			"not enough message quota for %d recipients", len(recipients),
		)}}
	}

	if req.PreAuthorized {
		return e.dispatchPreAuthorized(ctx, req, recipients, unitPrice)
	}

	return e.dispatchStandard(ctx, req, recipients, unitPrice)
}

func (e *Engine) dispatchStandard(
	ctx context.Context,
	req domain.DispatchRequest,
	recipients []domain.Recipient,
	unitPrice int64,
) (*domain.DispatchResult, error) {
	txCode := domain.NewTransactionCode("DSP")
	totalCost := unitPrice * int64(len(recipients))

	debitMeta := map[string]string{
		"kind":       string(req.Kind),
		"recipients": fmt.Sprintf("%d", len(recipients)),
	}
	if req.CampaignID != "" {
		debitMeta["campaignId"] = req.CampaignID
	}

	if totalCost > 0 {
		// Fast read first; Debit re-checks under the account row lock.
		covered, err := e.ledger.HasSufficientBalance(ctx, req.AccountID, totalCost)
		if err != nil {
			e.releaseQuota(ctx, req.AccountID, int64(len(recipients)))
			return nil, fmt.Errorf("failed to check balance for dispatch: %w", err)
		}
		if !covered {
			e.releaseQuota(ctx, req.AccountID, int64(len(recipients)))
			return nil, fmt.Errorf(
				"account %s cannot cover dispatch cost of %d: %w",
				req.AccountID, totalCost, domain.ErrInsufficientBalance,
			)
		}

		if _, err := e.ledger.Debit(ctx, req.AccountID, totalCost, txCode, "dispatch reservation", debitMeta); err != nil {
			e.releaseQuota(ctx, req.AccountID, int64(len(recipients)))
			return nil, fmt.Errorf("failed to reserve dispatch funds: %w", err)
		}
	}

	outcomes, sent, failed, loopErr := e.sendLoop(ctx, req.AccountID, recipients, req.Content)
	if loopErr != nil {
		e.releaseQuota(ctx, req.AccountID, int64(len(recipients)))
		return nil, e.rollback(ctx, req.AccountID, txCode, totalCost, loopErr)
	}

	// Reconcile: give back what was reserved for recipients that failed,
	// funds and quota alike.
	if failed > 0 && unitPrice > 0 {
		refund := int64(failed) * unitPrice
		_, err := e.ledger.Credit(ctx, req.AccountID, refund, txCode, "partial refund: failed recipients", nil)
		if err != nil {
			logger.Criticalf(
				"Partial refund of %d failed for account %s transaction %s: %v",
				refund, req.AccountID, txCode, err,
			)
			return nil, &RollbackError{
				AccountID:       req.AccountID,
				TransactionCode: txCode,
				RollbackErr:     err,
			}
		}
	}
	e.releaseQuota(ctx, req.AccountID, int64(failed))

	balanceAfter, err := e.ledger.CurrentBalance(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance after dispatch: %w", err)
	}

	result := &domain.DispatchResult{
		Success:           sent > 0,
		SentCount:         sent,
		FailedCount:       failed,
		ActualCostCents:   int64(sent) * unitPrice,
		BalanceAfterCents: balanceAfter,
		TransactionCode:   txCode,
		Outcomes:          outcomes,
		Metadata:          map[string]string{"unitPriceCents": fmt.Sprintf("%d", unitPrice)},
	}

	e.recordSuccess(ctx, req, result)

	logger.Infof("Dispatch %s for account %s: %d sent, %d failed, cost %d, balance %d",
		txCode, req.AccountID, sent, failed, result.ActualCostCents, balanceAfter)

	return result, nil
}

// dispatchPreAuthorized skips the debit: an upstream layer already
// reserved funds under its own reservation id, which is carried through
// untouched so the caller can reconcile against it. BalanceAfterCents is
// -1; the caller queries the ledger itself.
func (e *Engine) dispatchPreAuthorized(
	ctx context.Context,
	req domain.DispatchRequest,
	recipients []domain.Recipient,
	unitPrice int64,
) (*domain.DispatchResult, error) {
	outcomes, sent, failed, loopErr := e.sendLoop(ctx, req.AccountID, recipients, req.Content)
	if loopErr != nil {
		e.releaseQuota(ctx, req.AccountID, int64(len(recipients)))
		return nil, fmt.Errorf("pre-authorized send loop failed (reservation %s held upstream): %w",
			req.ExternalReservationID, loopErr)
	}
	e.releaseQuota(ctx, req.AccountID, int64(failed))

	result := &domain.DispatchResult{
		Success:           sent > 0,
		SentCount:         sent,
		FailedCount:       failed,
		ActualCostCents:   int64(sent) * unitPrice,
		BalanceAfterCents: -1,
		TransactionCode:   req.ExternalReservationID,
		Outcomes:          outcomes,
		Metadata: map[string]string{
			"preAuthorized":         "true",
			"externalReservationId": req.ExternalReservationID,
			"unitPriceCents":        fmt.Sprintf("%d", unitPrice),
		},
	}

	e.recordSuccess(ctx, req, result)

	return result, nil
}

// sendLoop invokes the sender once per unique recipient. Recipients still
// inside the suppression window are skipped as failed outcomes without a
// send; their reserved share comes back in the reconcile step.
// Per-recipient failures are collected, never propagated: one bad number
// cannot abort the rest of the batch. A transport error aborts the loop
// and bubbles up for rollback.
func (e *Engine) sendLoop(
	ctx context.Context,
	accountID string,
	recipients []domain.Recipient,
	content domain.TemplateContent,
) (outcomes []domain.RecipientOutcome, sent, failed int, err error) {
	var delay time.Duration
	if e.cfg.ThrottledDelays && e.throttle != nil {
		profile, profileErr := e.throttle.ThrottleLevel(ctx, accountID)
		if profileErr != nil {
			logger.Warnf("Failed to read throttle profile for account %s: %v", accountID, profileErr)
		} else {
			delay = time.Duration(profile.DelayMillis) * time.Millisecond
		}
	}

	outcomes = make([]domain.RecipientOutcome, 0, len(recipients))

	for i, recipient := range recipients {
		suppressed, supErr := e.guard.IsDuplicateRecipient(ctx, accountID, recipient.NormalizedPhone)
		if supErr != nil {
			// Fail open: a broken suppression store must not block delivery.
			logger.Warnf("Failed to check suppression for %s: %v", recipient.NormalizedPhone, supErr)
		} else if suppressed {
			outcomes = append(outcomes, domain.RecipientOutcome{
				Recipient: recipient,
				Status:    domain.OutcomeFailed,
				Error:     "recipient suppressed: already sent within the duplicate window",
			})
			failed++
			continue
		}

		if delay > 0 && i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return outcomes, sent, failed, ctx.Err()
			}
		}

		sendResult, sendErr := e.sendOne(ctx, recipient, content)
		if sendErr != nil {
			return outcomes, sent, failed, fmt.Errorf("transport error for %s: %w", recipient.NormalizedPhone, sendErr)
		}

		outcome := domain.RecipientOutcome{
			Recipient:         recipient,
			Status:            sendResult.Status,
			ProviderMessageID: sendResult.ProviderMessageID,
			Error:             sendResult.Error,
		}
		outcomes = append(outcomes, outcome)

		if sendResult.Status == domain.OutcomeSent {
			sent++
		} else {
			failed++
		}
	}

	return outcomes, sent, failed, nil
}

func (e *Engine) sendOne(ctx context.Context, recipient domain.Recipient, content domain.TemplateContent) (*domain.SendOutcome, error) {
	if e.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
	}

	return e.sender.Send(ctx, recipient, content)
}

// rollback refunds the full reservation after a send-loop exception. The
// dispatch error is always surfaced; if the refund itself fails that is
// escalated as a RollbackError and logged critical, since it leaves funds
// neither consumed nor returned.
func (e *Engine) rollback(ctx context.Context, accountID, txCode string, totalCost int64, dispatchErr error) error {
	if totalCost > 0 {
		_, refundErr := e.ledger.Credit(ctx, accountID, totalCost, txCode, "rollback: dispatch failure", nil)
		if refundErr != nil {
			logger.Criticalf(
				"Rollback refund failed for account %s transaction %s: dispatch error: %v, rollback error: %v",
				accountID, txCode, dispatchErr, refundErr,
			)
			return &RollbackError{
				AccountID:       accountID,
				TransactionCode: txCode,
				DispatchErr:     dispatchErr,
				RollbackErr:     refundErr,
			}
		}

		logger.Warnf("Rolled back reservation %s (%d cents) for account %s after dispatch failure",
			txCode, totalCost, accountID)
	}

	return &DispatchError{TransactionCode: txCode, Err: dispatchErr}
}

// recordSuccess applies the post-dispatch side effects: the idempotency
// record and the suppression marks for delivered recipients. Neither can
// fail the dispatch itself; the money has already been reconciled.
func (e *Engine) recordSuccess(ctx context.Context, req domain.DispatchRequest, result *domain.DispatchResult) {
	if req.IdempotencyKey != "" {
		reference, err := json.Marshal(domain.DispatchReference{
			TransactionCode: result.TransactionCode,
			SentCount:       result.SentCount,
			FailedCount:     result.FailedCount,
			ActualCostCents: result.ActualCostCents,
		})
		if err == nil {
			_, err = e.idempotency.StoreIdempotencyResult(
				ctx, req.IdempotencyKey, req.AccountID, guard.ActionDispatch, string(reference), e.cfg.IdempotencyTTL)
		}
		if err != nil {
			logger.Warnf("Failed to store idempotency record for account %s: %v", req.AccountID, err)
		}
	}

	for _, outcome := range result.Outcomes {
		if outcome.Status != domain.OutcomeSent {
			continue
		}
		if err := e.guard.MarkRecipientSent(ctx, req.AccountID, outcome.Recipient.NormalizedPhone); err != nil {
			logger.Warnf("Failed to mark recipient %s sent for account %s: %v",
				outcome.Recipient.NormalizedPhone, req.AccountID, err)
		}
	}
}

// releaseQuota returns part of a quota reservation. Failures only warn:
// the worst case is an account temporarily under quota, never over.
func (e *Engine) releaseQuota(ctx context.Context, accountID string, n int64) {
	if n <= 0 {
		return
	}
	if err := e.quotas.ReleaseQuota(ctx, accountID, n); err != nil {
		logger.Warnf("Failed to release %d quota for account %s: %v", n, accountID, err)
	}
}

// EstimateCost is a read-only projection with no side effects, usable
// before building a real dispatch request.
func (e *Engine) EstimateCost(
	ctx context.Context,
	accountID string,
	kind domain.MessageKind,
	recipientCount int,
) (*domain.CostEstimate, error) {
	unitPrice, err := e.pricing.CurrentUnitPrice(ctx, accountID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit price for account %s: %w", accountID, err)
	}

	balance, err := e.ledger.CurrentBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	totalCost := unitPrice * int64(recipientCount)

	estimate := &domain.CostEstimate{
		UnitPriceCents:      unitPrice,
		TotalCostCents:      totalCost,
		CurrentBalanceCents: balance,
		Sufficient:          balance >= totalCost,
		BalanceAfterCents:   balance - totalCost,
	}
	if !estimate.Sufficient {
		estimate.ShortageCents = totalCost - balance
	}

	return estimate, nil
}

// dedupeRecipients collapses duplicates by normalized phone, keeping the
// first occurrence's order. Cost is always computed over the deduplicated
// set.
func dedupeRecipients(recipients []domain.Recipient) []domain.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	unique := make([]domain.Recipient, 0, len(recipients))

	for _, r := range recipients {
		if _, ok := seen[r.NormalizedPhone]; ok {
			continue
		}
		seen[r.NormalizedPhone] = struct{}{}
		unique = append(unique, r)
	}

	return unique
}
