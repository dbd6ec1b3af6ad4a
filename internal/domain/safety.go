package domain

import "time"

type SafetyActionKind string

const (
	ActionNone     SafetyActionKind = "none"
	ActionPause    SafetyActionKind = "pause"
	ActionThrottle SafetyActionKind = "throttle"
	ActionSuspend  SafetyActionKind = "suspend"
	ActionBan      SafetyActionKind = "ban"
)

// Blocking reports whether the action forbids sending outright. Pause and
// throttle slow an account down; suspend and ban stop it.
func (a SafetyActionKind) Blocking() bool {
	return a == ActionSuspend || a == ActionBan
}

type SafetyAction struct {
	AccountID string           `json:"accountId"`
	Action    SafetyActionKind `json:"action"`
	Reason    string           `json:"reason"`
	AppliedAt time.Time        `json:"appliedAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// AccountMetrics is the externally supplied risk input. FailureRate is a
// fraction in [0,1]; RiskScore is 0-100.
type AccountMetrics struct {
	AccountID   string  `json:"accountId"`
	FailureRate float64 `json:"failureRate"`
	RiskScore   float64 `json:"riskScore"`
}

// ThrottleProfile is derived from the current risk score, never persisted.
type ThrottleProfile struct {
	DelayMillis      int `json:"delayMillis"`
	MaxRatePerWindow int `json:"maxRatePerWindow"`
}
