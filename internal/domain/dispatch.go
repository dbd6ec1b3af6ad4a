package domain

import "time"

type MessageKind string

const (
	KindText      MessageKind = "text"
	KindTemplate  MessageKind = "template"
	KindCampaign  MessageKind = "campaign"
	KindBroadcast MessageKind = "broadcast"
	KindFlow      MessageKind = "flow"
	KindAPI       MessageKind = "api"
)

// Recipient carries both the phone number as the caller supplied it and
// its normalized form. Deduplication and suppression always key on the
// normalized form.
type Recipient struct {
	RawPhone        string `json:"rawPhone"`
	NormalizedPhone string `json:"normalizedPhone"`
}

// TemplateContent is the message payload the content policy inspects.
type TemplateContent struct {
	Body     string `json:"body"`
	FreeText bool   `json:"freeText"`
	Approved bool   `json:"approved"`
}

type DispatchRequest struct {
	AccountID             string            `json:"accountId"`
	Recipients            []Recipient       `json:"recipients"`
	Content               TemplateContent   `json:"content"`
	Kind                  MessageKind       `json:"kind"`
	CampaignID            string            `json:"campaignId,omitempty"`
	BroadcastID           string            `json:"broadcastId,omitempty"`
	FlowID                string            `json:"flowId,omitempty"`
	IdempotencyKey        string            `json:"idempotencyKey,omitempty"`
	ScheduledAt           *time.Time        `json:"scheduledAt,omitempty"`
	PreAuthorized         bool              `json:"preAuthorized"`
	ExternalReservationID string            `json:"externalReservationId,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeFailed OutcomeStatus = "failed"
)

type RecipientOutcome struct {
	Recipient         Recipient     `json:"recipient"`
	Status            OutcomeStatus `json:"status"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// DispatchResult is the engine's answer for one dispatch request.
// sentCount+failedCount always equals the unique recipient count, and
// ActualCostCents is SentCount × the unit price in effect.
type DispatchResult struct {
	Success           bool               `json:"success"`
	SentCount         int                `json:"sentCount"`
	FailedCount       int                `json:"failedCount"`
	ActualCostCents   int64              `json:"actualCostCents"`
	BalanceAfterCents int64              `json:"balanceAfterCents"`
	TransactionCode   string             `json:"transactionCode"`
	Outcomes          []RecipientOutcome `json:"outcomes"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

// SendOutcome is what the external gateway reports for one recipient.
type SendOutcome struct {
	Status            OutcomeStatus `json:"status"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// CostEstimate is a read-only cost projection, safe to call before
// building a real dispatch request.
type CostEstimate struct {
	UnitPriceCents      int64 `json:"unitPriceCents"`
	TotalCostCents      int64 `json:"totalCostCents"`
	CurrentBalanceCents int64 `json:"currentBalanceCents"`
	Sufficient          bool  `json:"sufficient"`
	ShortageCents       int64 `json:"shortageCents"`
	BalanceAfterCents   int64 `json:"balanceAfterCents"`
}
