package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// Fixed thresholds. Evaluation is highest-severity first, so a risk score
// of 85 suspends even though it also clears the throttle threshold, and a
// 12% failure rate suspends before the pause rule is consulted.
const (
	riskBanThreshold      = 95.0
	riskSuspendThreshold  = 80.0
	riskThrottleThreshold = 60.0

	failureSuspendThreshold = 0.10
	failurePauseThreshold   = 0.05
)

// Evaluate is a pure function of the supplied metrics. It returns the
// action and a reason naming the threshold that fired.
func Evaluate(m domain.AccountMetrics) (domain.SafetyActionKind, string) {
	switch {
	case m.RiskScore >= riskBanThreshold:
		return domain.ActionBan, fmt.Sprintf("risk score %.1f at or above ban threshold %.0f", m.RiskScore, riskBanThreshold)
	case m.FailureRate >= failureSuspendThreshold:
		return domain.ActionSuspend, fmt.Sprintf("failure rate %.1f%% at or above suspend threshold %.0f%%",
			m.FailureRate*100, failureSuspendThreshold*100)
	case m.RiskScore >= riskSuspendThreshold:
		return domain.ActionSuspend, fmt.Sprintf("risk score %.1f at or above suspend threshold %.0f", m.RiskScore, riskSuspendThreshold)
	case m.RiskScore >= riskThrottleThreshold:
		return domain.ActionThrottle, fmt.Sprintf("risk score %.1f at or above throttle threshold %.0f", m.RiskScore, riskThrottleThreshold)
	case m.FailureRate >= failurePauseThreshold:
		return domain.ActionPause, fmt.Sprintf("failure rate %.1f%% at or above pause threshold %.0f%%",
			m.FailureRate*100, failurePauseThreshold*100)
	default:
		return domain.ActionNone, ""
	}
}

// ThrottleProfileFor maps a risk score into one of four fixed bands:
// <40 → 3ms/20, 40-59 → 5ms/10, 60-79 → 8ms/5, ≥80 → 15ms/2.
func ThrottleProfileFor(riskScore float64) domain.ThrottleProfile {
	switch {
	case riskScore >= 80:
		return domain.ThrottleProfile{DelayMillis: 15, MaxRatePerWindow: 2}
	case riskScore >= 60:
		return domain.ThrottleProfile{DelayMillis: 8, MaxRatePerWindow: 5}
	case riskScore >= 40:
		return domain.ThrottleProfile{DelayMillis: 5, MaxRatePerWindow: 10}
	default:
		return domain.ThrottleProfile{DelayMillis: 3, MaxRatePerWindow: 20}
	}
}

type actionStore interface {
	SetSafetyAction(ctx context.Context, action domain.SafetyAction, ttl time.Duration) error
	CurrentSafetyAction(ctx context.Context, accountID string) (*domain.SafetyAction, error)
	ClearSafetyAction(ctx context.Context, accountID string) error
	SetRiskScore(ctx context.Context, accountID string, score float64, ttl time.Duration) error
	RiskScore(ctx context.Context, accountID string) (float64, bool, error)
}

// TTLConfig controls how long each applied action lives. Pause and
// throttle are short-lived; suspend and ban stick until an operator
// intervenes or the TTL runs out.
type TTLConfig struct {
	Pause    time.Duration
	Throttle time.Duration
	Suspend  time.Duration
	Ban      time.Duration
}

// StateMachine persists evaluated safety actions so the guard pipeline
// can read a single source of truth for an account's posture.
type StateMachine struct {
	store actionStore
	ttls  TTLConfig
}

func NewStateMachine(store actionStore, ttls TTLConfig) *StateMachine {
	return &StateMachine{store: store, ttls: ttls}
}

// Apply evaluates the metrics, stores the resulting action (when any) and
// the risk score, and returns what was applied. ActionNone stores
// nothing: an existing action is left to expire or be reset manually.
func (s *StateMachine) Apply(ctx context.Context, m domain.AccountMetrics) (*domain.SafetyAction, error) {
	// Risk score is persisted even when no action fires; the throttle
	// bands read it.
	if err := s.store.SetRiskScore(ctx, m.AccountID, m.RiskScore, s.ttls.Suspend); err != nil {
		return nil, err
	}

	kind, reason := Evaluate(m)
	if kind == domain.ActionNone {
		return nil, nil
	}

	ttl := s.ttlFor(kind)
	action := domain.SafetyAction{
		AccountID: m.AccountID,
		Action:    kind,
		Reason:    reason,
		AppliedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := s.store.SetSafetyAction(ctx, action, ttl); err != nil {
		return nil, err
	}

	logger.Warnf("Applied safety action %s to account %s: %s", kind, m.AccountID, reason)

	return &action, nil
}

func (s *StateMachine) Current(ctx context.Context, accountID string) (*domain.SafetyAction, error) {
	return s.store.CurrentSafetyAction(ctx, accountID)
}

// Reset is the manual operator path: it clears the current action without
// waiting for the TTL. The risk score stays; the next evaluation may
// re-apply an action immediately.
func (s *StateMachine) Reset(ctx context.Context, accountID string) error {
	if err := s.store.ClearSafetyAction(ctx, accountID); err != nil {
		return err
	}

	logger.Warnf("Safety action for account %s manually reset", accountID)

	return nil
}

// ThrottleLevel maps the account's persisted risk score into a throttle
// profile. An account with no recorded score gets the lowest band.
func (s *StateMachine) ThrottleLevel(ctx context.Context, accountID string) (domain.ThrottleProfile, error) {
	score, _, err := s.store.RiskScore(ctx, accountID)
	if err != nil {
		return domain.ThrottleProfile{}, err
	}

	return ThrottleProfileFor(score), nil
}

func (s *StateMachine) ttlFor(kind domain.SafetyActionKind) time.Duration {
	switch kind {
	case domain.ActionPause:
		return s.ttls.Pause
	case domain.ActionThrottle:
		return s.ttls.Throttle
	case domain.ActionSuspend:
		return s.ttls.Suspend
	case domain.ActionBan:
		return s.ttls.Ban
	default:
		return s.ttls.Pause
	}
}
