package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// ActionDispatch is the idempotency action scope used for dispatch
// requests. The same key under a different action is a different request.
const ActionDispatch = "dispatch"

// Small internal interfaces so the pipeline can be tested without a real
// database or Valkey behind it.
type balanceReader interface {
	CurrentBalance(ctx context.Context, accountID string) (int64, error)
}

type quotaStore interface {
	QuotaAvailable(ctx context.Context, accountID string) (int64, error)
}

type idempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key, accountID, action string) (bool, string, error)
}

type suppressionStore interface {
	IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error)
	MarkRecipientSent(ctx context.Context, accountID, normalizedPhone string, window time.Duration) error
}

type safetyReader interface {
	CurrentSafetyAction(ctx context.Context, accountID string) (*domain.SafetyAction, error)
}

// Config holds the guard thresholds. Min/Low balance and quota are
// separate on purpose: crossing the low threshold is a warning, crossing
// the hard floor is a failure.
type Config struct {
	MinBalanceCents       int64
	LowBalanceCents       int64
	LowQuotaThreshold     int64
	CampaignMaxRecipients int
	SuppressionWindow     time.Duration
}

// Pipeline runs every guard rule over a dispatch request and aggregates
// the result. Validation itself is read-only; MarkRecipientSent is the
// only mutating operation and is called separately after a successful
// dispatch.
type Pipeline struct {
	balances    balanceReader
	quotas      quotaStore
	idempotency idempotencyStore
	suppression suppressionStore
	safety      safetyReader
	policy      *TemplatePolicy
	cfg         Config
}

func NewPipeline(
	balances balanceReader,
	quotas quotaStore,
	idempotency idempotencyStore,
	suppression suppressionStore,
	safety safetyReader,
	policy *TemplatePolicy,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		balances:    balances,
		quotas:      quotas,
		idempotency: idempotency,
		suppression: suppression,
		safety:      safety,
		policy:      policy,
		cfg:         cfg,
	}
}

type ValidateInput struct {
	AccountID      string
	RecipientCount int
	Content        domain.TemplateContent
	IdempotencyKey string
}

type ValidationReport struct {
	Valid             bool     `json:"valid"`
	Errors            []string `json:"errors"`
	Warnings          []string `json:"warnings"`
	Duplicate         bool     `json:"duplicate"`
	ExistingReference string   `json:"existingReference,omitempty"`
}

type IdempotencyCheck struct {
	Valid             bool   `json:"valid"`
	Duplicate         bool   `json:"duplicate"`
	ExistingReference string `json:"existingReference,omitempty"`
}

// ValidateAll runs every applicable rule and collects all errors rather
// than stopping at the first. The one exception is a duplicate
// idempotency key: the request already executed, so re-validating the
// remaining rules is meaningless and it returns immediately.
func (p *Pipeline) ValidateAll(ctx context.Context, in ValidateInput) (*ValidationReport, error) {
	report := &ValidationReport{Valid: true}

	if in.IdempotencyKey != "" {
		check, err := p.ValidateIdempotencyKey(ctx, in.IdempotencyKey, in.AccountID, ActionDispatch)
		if err != nil {
			return nil, err
		}
		if check.Duplicate {
			report.Valid = false
			report.Duplicate = true
			report.ExistingReference = check.ExistingReference
			report.Errors = []string{"duplicate request"}
			return report, nil
		}
	}

	// Safety state beats everything else: a suspended or banned account
	// fails regardless of balance, quota or content.
	action, err := p.safety.CurrentSafetyAction(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if action != nil && action.Action.Blocking() {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"account is under safety action %q: %s", action.Action, action.Reason,
		))
	}

	quotaErrs, quotaWarns, err := p.ValidateQuota(ctx, in.AccountID, int64(in.RecipientCount))
	if err != nil {
		return nil, err
	}
	report.Errors = append(report.Errors, quotaErrs...)
	report.Warnings = append(report.Warnings, quotaWarns...)

	report.Errors = append(report.Errors, p.ValidateCampaign(in.RecipientCount)...)
	report.Errors = append(report.Errors, p.ValidateTemplate(in.Content)...)

	if len(report.Errors) > 0 {
		report.Valid = false
		logger.Debugf("Guard rejected account %s: %v", in.AccountID, report.Errors)
	}

	return report, nil
}

// ValidateQuota checks the balance floor and the message-quota counter.
// Quota exactly equal to the requested count passes; there is no
// overdraft. Balance or quota below the separate "low" thresholds only
// warns. Both reads are advisory: the dispatch engine takes quota through
// an atomic reservation and the ledger re-checks balance under its row
// lock, so concurrent requests cannot both spend the same headroom.
func (p *Pipeline) ValidateQuota(ctx context.Context, accountID string, messageCount int64) (errs, warnings []string, err error) {
	balance, err := p.balances.CurrentBalance(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read balance for quota check: %w", err)
	}

	if balance <= p.cfg.MinBalanceCents {
		errs = append(errs, fmt.Sprintf(
			"balance %d is at or below the minimum floor of %d",
			balance, p.cfg.MinBalanceCents,
		))
	} else if balance < p.cfg.LowBalanceCents {
		warnings = append(warnings, fmt.Sprintf(
			"balance %d is below the low-balance threshold of %d",
			balance, p.cfg.LowBalanceCents,
		))
	}

	quota, err := p.quotas.QuotaAvailable(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read quota: %w", err)
	}

	if quota < messageCount {
		errs = append(errs, fmt.Sprintf(
			"not enough message quota: %d available, %d requested",
			quota, messageCount,
		))
	} else if quota-messageCount < p.cfg.LowQuotaThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"message quota running low: %d left after this request",
			quota-messageCount,
		))
	}

	return errs, warnings, nil
}

// ValidateCampaign enforces the per-campaign recipient ceiling. Exactly
// at the ceiling passes; zero recipients passes here (empty-recipient
// rejection is a structural check on the request itself).
func (p *Pipeline) ValidateCampaign(recipientCount int) []string {
	if recipientCount > p.cfg.CampaignMaxRecipients {
		return []string{fmt.Sprintf(
			"campaign size %d exceeds the maximum of %d recipients",
			recipientCount, p.cfg.CampaignMaxRecipients,
		)}
	}

	return nil
}

func (p *Pipeline) ValidateTemplate(content domain.TemplateContent) []string {
	return p.policy.Validate(content)
}

// ValidateIdempotencyKey reports whether the (key, account, action)
// triple was already used. The same key under another account or action
// is never a duplicate.
func (p *Pipeline) ValidateIdempotencyKey(ctx context.Context, key, accountID, action string) (*IdempotencyCheck, error) {
	duplicate, reference, err := p.idempotency.CheckIdempotencyKey(ctx, key, accountID, action)
	if err != nil {
		return nil, fmt.Errorf("failed to validate idempotency key: %w", err)
	}

	return &IdempotencyCheck{
		Valid:             !duplicate,
		Duplicate:         duplicate,
		ExistingReference: reference,
	}, nil
}

func (p *Pipeline) IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error) {
	return p.suppression.IsDuplicateRecipient(ctx, accountID, normalizedPhone)
}

// MarkRecipientSent opens the suppression window for a recipient. Called
// by the dispatch engine after a successful send, never during validation.
func (p *Pipeline) MarkRecipientSent(ctx context.Context, accountID, normalizedPhone string) error {
	return p.suppression.MarkRecipientSent(ctx, accountID, normalizedPhone, p.cfg.SuppressionWindow)
}
