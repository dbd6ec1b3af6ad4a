package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
)

//
// Test fakes – only for this file.
//

type fakeBalances struct {
	balances map[string]int64
}

func (f *fakeBalances) CurrentBalance(ctx context.Context, accountID string) (int64, error) {
	return f.balances[accountID], nil
}

type fakeQuotas struct {
	quotas map[string]int64
}

func (f *fakeQuotas) QuotaAvailable(ctx context.Context, accountID string) (int64, error) {
	return f.quotas[accountID], nil
}

type fakeIdempotency struct {
	records map[string]string // "account:action:key" -> reference
}

func idemTestKey(accountID, action, key string) string {
	return accountID + ":" + action + ":" + key
}

func (f *fakeIdempotency) CheckIdempotencyKey(ctx context.Context, key, accountID, action string) (bool, string, error) {
	ref, ok := f.records[idemTestKey(accountID, action, key)]
	return ok, ref, nil
}

type fakeSuppression struct {
	marks map[string]bool // "account:phone"
}

func (f *fakeSuppression) IsDuplicateRecipient(ctx context.Context, accountID, phone string) (bool, error) {
	return f.marks[accountID+":"+phone], nil
}

func (f *fakeSuppression) MarkRecipientSent(ctx context.Context, accountID, phone string, window time.Duration) error {
	if f.marks == nil {
		f.marks = make(map[string]bool)
	}
	f.marks[accountID+":"+phone] = true
	return nil
}

type fakeSafety struct {
	actions map[string]*domain.SafetyAction
}

func (f *fakeSafety) CurrentSafetyAction(ctx context.Context, accountID string) (*domain.SafetyAction, error) {
	return f.actions[accountID], nil
}

func testConfig() Config {
	return Config{
		MinBalanceCents:       0,
		LowBalanceCents:       1000,
		LowQuotaThreshold:     100,
		CampaignMaxRecipients: 1000,
		SuppressionWindow:     24 * time.Hour,
	}
}

func newTestPipeline(
	balances *fakeBalances,
	quotas *fakeQuotas,
	idem *fakeIdempotency,
	supp *fakeSuppression,
	safe *fakeSafety,
) *Pipeline {
	if balances == nil {
		balances = &fakeBalances{balances: map[string]int64{}}
	}
	if quotas == nil {
		quotas = &fakeQuotas{quotas: map[string]int64{}}
	}
	if idem == nil {
		idem = &fakeIdempotency{records: map[string]string{}}
	}
	if supp == nil {
		supp = &fakeSuppression{marks: map[string]bool{}}
	}
	if safe == nil {
		safe = &fakeSafety{actions: map[string]*domain.SafetyAction{}}
	}

	return NewPipeline(balances, quotas, idem, supp, safe, NewTemplatePolicy(1024, 5), testConfig())
}

//
// Tests
//

func TestValidateCampaign_CeilingBoundaries(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil, nil)

	cases := []struct {
		count int
		valid bool
	}{
		{2000, false},
		{1001, false},
		{1000, true},
		{500, true},
		{0, true},
	}

	for _, tc := range cases {
		errs := p.ValidateCampaign(tc.count)
		if tc.valid && len(errs) != 0 {
			t.Errorf("recipientCount=%d: expected valid, got %v", tc.count, errs)
		}
		if !tc.valid && len(errs) == 0 {
			t.Errorf("recipientCount=%d: expected rejection, got none", tc.count)
		}
	}
}

func TestValidateQuota_BalanceFloorBoundary(t *testing.T) {
	ctx := context.Background()

	balances := &fakeBalances{balances: map[string]int64{"acct-1": 0, "acct-2": 1}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 5000, "acct-2": 5000}}
	p := newTestPipeline(balances, quotas, nil, nil, nil)

	// Balance exactly at the floor (0) fails.
	errs, _, err := p.ValidateQuota(ctx, "acct-1", 1)
	if err != nil {
		t.Fatalf("ValidateQuota returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected balance-at-floor to fail")
	}

	// Strictly above the floor passes.
	errs, _, err = p.ValidateQuota(ctx, "acct-2", 1)
	if err != nil {
		t.Fatalf("ValidateQuota returned error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected balance above floor to pass, got %v", errs)
	}
}

func TestValidateQuota_NoOverdraft(t *testing.T) {
	ctx := context.Background()

	balances := &fakeBalances{balances: map[string]int64{"acct-1": 100000}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 500}}
	p := newTestPipeline(balances, quotas, nil, nil, nil)

	// Requesting more than remaining quota is rejected.
	errs, _, err := p.ValidateQuota(ctx, "acct-1", 600)
	if err != nil {
		t.Fatalf("ValidateQuota returned error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected quota overdraft to be rejected")
	}
	if !strings.Contains(errs[0], "not enough message quota") {
		t.Errorf("expected quota error, got %q", errs[0])
	}

	// Requesting exactly the remaining quota is accepted.
	errs, _, err = p.ValidateQuota(ctx, "acct-1", 500)
	if err != nil {
		t.Fatalf("ValidateQuota returned error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected exact-quota request to pass, got %v", errs)
	}
}

func TestValidateQuota_LowThresholdsWarnOnly(t *testing.T) {
	ctx := context.Background()

	// Balance above the floor but under the low threshold; quota left
	// after the request under the low-quota threshold.
	balances := &fakeBalances{balances: map[string]int64{"acct-1": 500}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 120}}
	p := newTestPipeline(balances, quotas, nil, nil, nil)

	errs, warnings, err := p.ValidateQuota(ctx, "acct-1", 50)
	if err != nil {
		t.Fatalf("ValidateQuota returned error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no hard errors, got %v", errs)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected low balance and low quota warnings, got %v", warnings)
	}
}

func TestValidateIdempotencyKey_TripleScoped(t *testing.T) {
	ctx := context.Background()

	idem := &fakeIdempotency{records: map[string]string{
		idemTestKey("acct-1", "dispatch", "K"): `{"transactionCode":"DSP-1"}`,
	}}
	p := newTestPipeline(nil, nil, idem, nil, nil)

	// Identical triple is a duplicate and returns the stored reference.
	check, err := p.ValidateIdempotencyKey(ctx, "K", "acct-1", "dispatch")
	if err != nil {
		t.Fatalf("ValidateIdempotencyKey returned error: %v", err)
	}
	if !check.Duplicate {
		t.Fatalf("expected duplicate=true for identical triple")
	}
	if check.ExistingReference == "" {
		t.Fatalf("expected the original reference to be returned")
	}

	// Same key, different account: not a duplicate.
	check, err = p.ValidateIdempotencyKey(ctx, "K", "acct-2", "dispatch")
	if err != nil {
		t.Fatalf("ValidateIdempotencyKey returned error: %v", err)
	}
	if check.Duplicate {
		t.Fatalf("expected duplicate=false for different account")
	}

	// Same key, different action: not a duplicate.
	check, err = p.ValidateIdempotencyKey(ctx, "K", "acct-1", "estimate")
	if err != nil {
		t.Fatalf("ValidateIdempotencyKey returned error: %v", err)
	}
	if check.Duplicate {
		t.Fatalf("expected duplicate=false for different action")
	}
}

func TestRecipientSuppression_AccountScoped(t *testing.T) {
	ctx := context.Background()

	supp := &fakeSuppression{marks: map[string]bool{}}
	p := newTestPipeline(nil, nil, nil, supp, nil)

	if err := p.MarkRecipientSent(ctx, "acct-1", "+628123456789"); err != nil {
		t.Fatalf("MarkRecipientSent returned error: %v", err)
	}

	dup, err := p.IsDuplicateRecipient(ctx, "acct-1", "+628123456789")
	if err != nil {
		t.Fatalf("IsDuplicateRecipient returned error: %v", err)
	}
	if !dup {
		t.Fatalf("expected phone to be suppressed for acct-1")
	}

	dup, err = p.IsDuplicateRecipient(ctx, "acct-2", "+628123456789")
	if err != nil {
		t.Fatalf("IsDuplicateRecipient returned error: %v", err)
	}
	if dup {
		t.Fatalf("expected same phone under acct-2 to not be suppressed")
	}
}

func TestValidateAll_DuplicateKeyShortCircuits(t *testing.T) {
	ctx := context.Background()

	idem := &fakeIdempotency{records: map[string]string{
		idemTestKey("acct-1", ActionDispatch, "K"): `{"transactionCode":"DSP-1"}`,
	}}
	// Everything else would also fail, but a duplicate returns alone.
	balances := &fakeBalances{balances: map[string]int64{"acct-1": 0}}
	p := newTestPipeline(balances, nil, idem, nil, nil)

	report, err := p.ValidateAll(ctx, ValidateInput{
		AccountID:      "acct-1",
		RecipientCount: 5000,
		Content:        domain.TemplateContent{FreeText: true},
		IdempotencyKey: "K",
	})
	if err != nil {
		t.Fatalf("ValidateAll returned error: %v", err)
	}

	if report.Valid {
		t.Fatalf("expected invalid report for duplicate key")
	}
	if !report.Duplicate {
		t.Fatalf("expected duplicate=true")
	}
	if len(report.Errors) != 1 || report.Errors[0] != "duplicate request" {
		t.Fatalf("expected single 'duplicate request' error, got %v", report.Errors)
	}
	if report.ExistingReference == "" {
		t.Fatalf("expected existing reference on duplicate report")
	}
}

func TestValidateAll_SuspendedAccountFailsUnconditionally(t *testing.T) {
	ctx := context.Background()

	// Healthy balance and quota, clean content: the safety action alone
	// must fail the request.
	balances := &fakeBalances{balances: map[string]int64{"acct-1": 100000}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 5000}}
	safe := &fakeSafety{actions: map[string]*domain.SafetyAction{
		"acct-1": {AccountID: "acct-1", Action: domain.ActionSuspend, Reason: "failure rate over threshold"},
	}}
	p := newTestPipeline(balances, quotas, nil, nil, safe)

	report, err := p.ValidateAll(ctx, ValidateInput{
		AccountID:      "acct-1",
		RecipientCount: 10,
		Content:        domain.TemplateContent{Body: "Hello {{name}}", Approved: true},
	})
	if err != nil {
		t.Fatalf("ValidateAll returned error: %v", err)
	}

	if report.Valid {
		t.Fatalf("expected suspended account to fail validation")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "suspend") {
		t.Fatalf("expected safety-action error, got %v", report.Errors)
	}
}

func TestValidateAll_ThrottledAccountStillPasses(t *testing.T) {
	ctx := context.Background()

	balances := &fakeBalances{balances: map[string]int64{"acct-1": 100000}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 5000}}
	safe := &fakeSafety{actions: map[string]*domain.SafetyAction{
		"acct-1": {AccountID: "acct-1", Action: domain.ActionThrottle, Reason: "risk score over threshold"},
	}}
	p := newTestPipeline(balances, quotas, nil, nil, safe)

	report, err := p.ValidateAll(ctx, ValidateInput{
		AccountID:      "acct-1",
		RecipientCount: 10,
		Content:        domain.TemplateContent{Body: "Hello {{name}}", Approved: true},
	})
	if err != nil {
		t.Fatalf("ValidateAll returned error: %v", err)
	}

	if !report.Valid {
		t.Fatalf("expected throttled (non-blocking) account to pass, got %v", report.Errors)
	}
}

func TestValidateAll_CollectsAllErrors(t *testing.T) {
	ctx := context.Background()

	// Balance at floor, no quota, over the campaign ceiling, free-text
	// content: every failure should be reported together.
	balances := &fakeBalances{balances: map[string]int64{"acct-1": 0}}
	quotas := &fakeQuotas{quotas: map[string]int64{"acct-1": 0}}
	p := newTestPipeline(balances, quotas, nil, nil, nil)

	report, err := p.ValidateAll(ctx, ValidateInput{
		AccountID:      "acct-1",
		RecipientCount: 2000,
		Content:        domain.TemplateContent{Body: "hi", FreeText: true},
	})
	if err != nil {
		t.Fatalf("ValidateAll returned error: %v", err)
	}

	if report.Valid {
		t.Fatalf("expected invalid report")
	}
	if len(report.Errors) < 4 {
		t.Fatalf("expected balance, quota, campaign and template errors, got %v", report.Errors)
	}
}
