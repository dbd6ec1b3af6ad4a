package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/internal/guard"
)

//
// Test fakes – only for this file.
//

type fakeLedgerEntry struct {
	entryType domain.EntryType
	amount    int64
	txCode    string
	reason    string
}

// fakeLedger keeps real append-only entries so tests can assert what the
// account was actually charged, not just which methods were called.
type fakeLedger struct {
	balances map[string]int64
	entries  map[string][]fakeLedgerEntry

	debitCalls    int
	debitErr      error
	creditErr     error
	failCreditFor string
}

func newFakeLedger(initial map[string]int64) *fakeLedger {
	balances := make(map[string]int64)
	for account, amount := range initial {
		balances[account] = amount
	}
	return &fakeLedger{
		balances: balances,
		entries:  make(map[string][]fakeLedgerEntry),
	}
}

func (f *fakeLedger) Debit(ctx context.Context, accountID string, amountCents int64, transactionCode, reason string, metadata map[string]string) (*domain.LedgerEntry, error) {
	f.debitCalls++
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	if f.balances[accountID]-amountCents < 0 {
		return nil, fmt.Errorf("debit %d rejected: %w", amountCents, domain.ErrInsufficientBalance)
	}
	f.balances[accountID] -= amountCents
	f.entries[accountID] = append(f.entries[accountID], fakeLedgerEntry{
		entryType: domain.EntryDebit,
		amount:    amountCents,
		txCode:    transactionCode,
		reason:    reason,
	})
	return &domain.LedgerEntry{AccountID: accountID, AmountCents: amountCents, TransactionCode: transactionCode}, nil
}

func (f *fakeLedger) Credit(ctx context.Context, accountID string, amountCents int64, originalTransactionCode, reason string, metadata map[string]string) (*domain.LedgerEntry, error) {
	if f.creditErr != nil && (f.failCreditFor == "" || f.failCreditFor == accountID) {
		return nil, f.creditErr
	}
	f.balances[accountID] += amountCents
	f.entries[accountID] = append(f.entries[accountID], fakeLedgerEntry{
		entryType: domain.EntryCredit,
		amount:    amountCents,
		txCode:    originalTransactionCode,
		reason:    reason,
	})
	return &domain.LedgerEntry{AccountID: accountID, AmountCents: amountCents}, nil
}

func (f *fakeLedger) CurrentBalance(ctx context.Context, accountID string) (int64, error) {
	return f.balances[accountID], nil
}

func (f *fakeLedger) HasSufficientBalance(ctx context.Context, accountID string, amountCents int64) (bool, error) {
	return f.balances[accountID] >= amountCents, nil
}

// netDebited returns total debits minus total credits for a transaction.
func (f *fakeLedger) netDebited(accountID, txCode string) int64 {
	var net int64
	for _, entry := range f.entries[accountID] {
		if entry.txCode != txCode {
			continue
		}
		if entry.entryType == domain.EntryDebit {
			net += entry.amount
		} else {
			net -= entry.amount
		}
	}
	return net
}

type fakeGuard struct {
	report     *guard.ValidationReport
	err        error
	suppressed map[string]bool
	marked     []string
	markCalled int
}

func (f *fakeGuard) ValidateAll(ctx context.Context, in guard.ValidateInput) (*guard.ValidationReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &guard.ValidationReport{Valid: true}, nil
}

func (f *fakeGuard) IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error) {
	return f.suppressed[normalizedPhone], nil
}

func (f *fakeGuard) MarkRecipientSent(ctx context.Context, accountID, normalizedPhone string) error {
	f.markCalled++
	f.marked = append(f.marked, normalizedPhone)
	return nil
}

// fakeSender maps normalized phone to a scripted outcome. Phones listed
// in failPhones produce failed outcomes; transportErrAt aborts the loop
// at that zero-based call index.
type fakeSender struct {
	failPhones     map[string]bool
	transportErr   error
	transportErrAt int
	calls          int
	sentTo         []string
}

func (f *fakeSender) Send(ctx context.Context, recipient domain.Recipient, content domain.TemplateContent) (*domain.SendOutcome, error) {
	index := f.calls
	f.calls++
	if f.transportErr != nil && index == f.transportErrAt {
		return nil, f.transportErr
	}
	f.sentTo = append(f.sentTo, recipient.NormalizedPhone)
	if f.failPhones[recipient.NormalizedPhone] {
		return &domain.SendOutcome{Status: domain.OutcomeFailed, Error: "undeliverable"}, nil
	}
	return &domain.SendOutcome{Status: domain.OutcomeSent, ProviderMessageID: "prov-" + recipient.NormalizedPhone}, nil
}

type fakePricing struct {
	unitPrice int64
	err       error
}

func (f *fakePricing) CurrentUnitPrice(ctx context.Context, accountID string, kind domain.MessageKind) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.unitPrice, nil
}

type fakeIdemWriter struct {
	stored map[string]string
}

func (f *fakeIdemWriter) StoreIdempotencyResult(ctx context.Context, key, accountID, action, reference string, ttl time.Duration) (bool, error) {
	if f.stored == nil {
		f.stored = make(map[string]string)
	}
	f.stored[accountID+":"+action+":"+key] = reference
	return true, nil
}

// fakeQuota enforces the same no-overdraw reservation semantics as the
// real counter so concurrent dispatches can be exercised against it.
type fakeQuota struct {
	mu        sync.Mutex
	remaining int64
	released  int64
}

func (f *fakeQuota) ReserveQuota(ctx context.Context, accountID string, n int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining < n {
		return f.remaining, false, nil
	}
	f.remaining -= n
	return f.remaining, true, nil
}

func (f *fakeQuota) ReleaseQuota(ctx context.Context, accountID string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining += n
	f.released += n
	return nil
}

type fakeThrottle struct {
	profile domain.ThrottleProfile
}

func (f *fakeThrottle) ThrottleLevel(ctx context.Context, accountID string) (domain.ThrottleProfile, error) {
	return f.profile, nil
}

type engineFixture struct {
	engine  *Engine
	ledger  *fakeLedger
	guard   *fakeGuard
	sender  *fakeSender
	pricing *fakePricing
	idem    *fakeIdemWriter
	quotas  *fakeQuota
}

func newEngineFixture(balance, unitPrice int64) *engineFixture {
	fx := &engineFixture{
		ledger:  newFakeLedger(map[string]int64{"acct-1": balance}),
		guard:   &fakeGuard{},
		sender:  &fakeSender{},
		pricing: &fakePricing{unitPrice: unitPrice},
		idem:    &fakeIdemWriter{},
		quotas:  &fakeQuota{remaining: 1000},
	}
	fx.engine = NewEngine(
		fx.ledger, fx.guard, fx.sender, fx.pricing, fx.idem, fx.quotas,
		&fakeThrottle{}, Config{IdempotencyTTL: 24 * time.Hour},
	)
	return fx
}

func recipients(phones ...string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(phones))
	for _, p := range phones {
		out = append(out, domain.Recipient{RawPhone: p, NormalizedPhone: p})
	}
	return out
}

func approvedContent() domain.TemplateContent {
	return domain.TemplateContent{Body: "Your code is {{code}}", Approved: true}
}

func baseRequest(recips []domain.Recipient) domain.DispatchRequest {
	return domain.DispatchRequest{
		AccountID:  "acct-1",
		Recipients: recips,
		Content:    approvedContent(),
		Kind:       domain.KindCampaign,
	}
}

//
// Tests
//

func TestDispatch_FullSuccessChargesExactCost(t *testing.T) {
	fx := newEngineFixture(10000, 50)

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if !result.Success || result.SentCount != 3 || result.FailedCount != 0 {
		t.Fatalf("expected 3 sent, got %+v", result)
	}
	if result.ActualCostCents != 150 {
		t.Errorf("expected actual cost 150, got %d", result.ActualCostCents)
	}
	if result.BalanceAfterCents != 9850 {
		t.Errorf("expected balance 9850, got %d", result.BalanceAfterCents)
	}
	if net := fx.ledger.netDebited("acct-1", result.TransactionCode); net != 150 {
		t.Errorf("ledger nets to %d for the transaction, want 150", net)
	}
	if !strings.HasPrefix(result.TransactionCode, "DSP-") {
		t.Errorf("unexpected transaction code %q", result.TransactionCode)
	}
}

func TestDispatch_PartialFailureRefundsFailedShare(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.sender.failPhones = map[string]bool{"+905552": true}

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if result.SentCount != 2 || result.FailedCount != 1 {
		t.Fatalf("expected 2 sent / 1 failed, got %+v", result)
	}
	if result.ActualCostCents != 100 {
		t.Errorf("expected actual cost 100, got %d", result.ActualCostCents)
	}
	// 150 debited up front, 50 refunded for the failed recipient.
	if net := fx.ledger.netDebited("acct-1", result.TransactionCode); net != 100 {
		t.Errorf("ledger nets to %d, want sent count times unit price (100)", net)
	}
	if result.BalanceAfterCents != 9900 {
		t.Errorf("expected balance 9900, got %d", result.BalanceAfterCents)
	}
	if len(result.Outcomes) != 3 {
		t.Errorf("expected an outcome per unique recipient, got %d", len(result.Outcomes))
	}
}

func TestDispatch_DeduplicatesBeforeCharging(t *testing.T) {
	fx := newEngineFixture(10000, 50)

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905551", "+905552", "+905551")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if result.SentCount != 2 {
		t.Fatalf("expected 2 unique sends, got %d", result.SentCount)
	}
	if fx.sender.calls != 2 {
		t.Errorf("expected sender called twice, got %d", fx.sender.calls)
	}
	if net := fx.ledger.netDebited("acct-1", result.TransactionCode); net != 100 {
		t.Errorf("expected cost over the deduplicated set (100), ledger nets to %d", net)
	}
}

func TestDispatch_EmptyRecipients(t *testing.T) {
	fx := newEngineFixture(10000, 50)

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(nil))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fx.sender.calls != 0 || len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no side effects for an empty request")
	}
}

func TestDispatch_GuardRejectionHasNoSideEffects(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.guard.report = &guard.ValidationReport{
		Valid:  false,
		Errors: []string{"account is suspended: failure rate too high"},
	}

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551")))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Errors) != 1 {
		t.Errorf("expected the guard errors to be carried through, got %v", vErr.Errors)
	}
	if fx.sender.calls != 0 || len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no debit and no sends after guard rejection")
	}
}

func TestDispatch_DuplicateRequestReturnsReference(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.guard.report = &guard.ValidationReport{
		Valid:             false,
		Duplicate:         true,
		ExistingReference: `{"transactionCode":"DSP-earlier"}`,
	}

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551")))

	var dupErr *DuplicateRequestError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateRequestError, got %v", err)
	}
	if !strings.Contains(dupErr.Reference, "DSP-earlier") {
		t.Errorf("expected stored reference carried through, got %q", dupErr.Reference)
	}
	if fx.sender.calls != 0 || len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no side effects for a duplicate request")
	}
}

func TestDispatch_InsufficientBalance(t *testing.T) {
	fx := newEngineFixture(100, 50)

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))

	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if fx.sender.calls != 0 {
		t.Errorf("expected no sends after a rejected reservation")
	}
	if fx.ledger.balances["acct-1"] != 100 {
		t.Errorf("expected balance untouched, got %d", fx.ledger.balances["acct-1"])
	}
	// The balance read rejects before any debit is even attempted.
	if fx.ledger.debitCalls != 0 {
		t.Errorf("expected no debit attempt, got %d", fx.ledger.debitCalls)
	}
	if fx.quotas.remaining != 1000 {
		t.Errorf("expected quota reservation released, remaining %d", fx.quotas.remaining)
	}
}

func TestDispatch_PricingNotConfigured(t *testing.T) {
	fx := newEngineFixture(10000, 0)
	fx.pricing.err = fmt.Errorf("no pricing for kind campaign: %w", domain.ErrPricingNotConfigured)

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551")))

	if !errors.Is(err, domain.ErrPricingNotConfigured) {
		t.Fatalf("expected ErrPricingNotConfigured, got %v", err)
	}
	if len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no ledger entries when pricing is missing")
	}
}

func TestDispatch_TransportErrorRollsBackFullReservation(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.sender.transportErr = errors.New("gateway unreachable")
	fx.sender.transportErrAt = 1

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))

	var dErr *DispatchError
	if !errors.As(err, &dErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if !strings.Contains(dErr.Error(), "gateway unreachable") {
		t.Errorf("expected underlying transport error in message, got %q", dErr.Error())
	}

	// Balance after rollback equals balance before the debit.
	if fx.ledger.balances["acct-1"] != 10000 {
		t.Errorf("expected balance restored to 10000, got %d", fx.ledger.balances["acct-1"])
	}
	if net := fx.ledger.netDebited("acct-1", dErr.TransactionCode); net != 0 {
		t.Errorf("expected transaction to net to zero after rollback, got %d", net)
	}
	if fx.quotas.remaining != 1000 || fx.guard.markCalled != 0 || len(fx.idem.stored) != 0 {
		t.Errorf("expected no success side effects after rollback")
	}
}

func TestDispatch_RollbackFailureEscalates(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.sender.transportErr = errors.New("gateway unreachable")
	fx.sender.transportErrAt = 0
	fx.ledger.creditErr = errors.New("database connection lost")

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552")))

	var rbErr *RollbackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("expected RollbackError, got %v", err)
	}
	if rbErr.AccountID != "acct-1" || rbErr.TransactionCode == "" {
		t.Errorf("expected account and transaction identifiers, got %+v", rbErr)
	}
	message := rbErr.Error()
	if !strings.Contains(message, "gateway unreachable") || !strings.Contains(message, "database connection lost") {
		t.Errorf("expected both dispatch and rollback errors in message, got %q", message)
	}
}

func TestDispatch_RecordsIdempotencyAndQuotaAndSuppression(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.sender.failPhones = map[string]bool{"+905553": true}

	req := baseRequest(recipients("+905551", "+905552", "+905553"))
	req.IdempotencyKey = "key-1"

	result, err := fx.engine.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	stored, ok := fx.idem.stored["acct-1:"+guard.ActionDispatch+":key-1"]
	if !ok {
		t.Fatalf("expected idempotency record to be stored")
	}
	var ref domain.DispatchReference
	if err := json.Unmarshal([]byte(stored), &ref); err != nil {
		t.Fatalf("stored reference is not valid JSON: %v", err)
	}
	if ref.TransactionCode != result.TransactionCode || ref.SentCount != 2 || ref.ActualCostCents != 100 {
		t.Errorf("stored reference does not match the result: %+v", ref)
	}

	// 3 reserved, the failed recipient's share released back.
	if consumed := int64(1000) - fx.quotas.remaining; consumed != 2 {
		t.Errorf("expected quota consumed for sent recipients only, got %d", consumed)
	}
	if len(fx.guard.marked) != 2 {
		t.Fatalf("expected suppression marks for sent recipients only, got %v", fx.guard.marked)
	}
	for _, phone := range fx.guard.marked {
		if phone == "+905553" {
			t.Errorf("failed recipient must not be suppression-marked")
		}
	}
}

func TestDispatch_SuppressedRecipientSkippedAndRefunded(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.guard.suppressed = map[string]bool{"+905552": true}

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if result.SentCount != 2 || result.FailedCount != 1 {
		t.Fatalf("expected 2 sent / 1 suppressed-failed, got %+v", result)
	}
	for _, phone := range fx.sender.sentTo {
		if phone == "+905552" {
			t.Errorf("suppressed recipient must not reach the sender")
		}
	}
	// The suppressed recipient's reserved share comes back in the refund.
	if net := fx.ledger.netDebited("acct-1", result.TransactionCode); net != 100 {
		t.Errorf("expected charge for delivered recipients only (100), ledger nets to %d", net)
	}
	// The existing mark stays; only freshly delivered recipients are marked.
	for _, phone := range fx.guard.marked {
		if phone == "+905552" {
			t.Errorf("suppressed recipient must not be re-marked")
		}
	}
}

func TestDispatch_QuotaReservationRefusedWhenExhausted(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.quotas.remaining = 2

	_, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552", "+905553")))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fx.sender.calls != 0 || len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no sends and no ledger entries after a refused reservation")
	}
	if fx.quotas.remaining != 2 {
		t.Errorf("expected the counter untouched after refusal, remaining %d", fx.quotas.remaining)
	}
}

func TestDispatch_ConcurrentDispatchesCannotOverdrawQuota(t *testing.T) {
	fx := newEngineFixture(100000, 50)
	fx.quotas.remaining = 5

	// Two dispatches of 4 messages each against a quota of 5: only one
	// reservation can win, the other must be refused outright.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.engine.Dispatch(context.Background(),
				baseRequest(recipients("+905551", "+905552", "+905553", "+905554")))
			results[i] = err
		}(i)
	}
	wg.Wait()

	if fx.quotas.remaining < 0 {
		t.Fatalf("quota counter overdrawn to %d", fx.quotas.remaining)
	}

	var refused int
	for _, err := range results {
		if err != nil {
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected the losing dispatch to fail validation, got %v", err)
			}
			refused++
		}
	}
	if refused != 1 {
		t.Errorf("expected exactly one dispatch refused, got %d", refused)
	}
	if fx.quotas.remaining != 1 {
		t.Errorf("expected 4 of 5 quota consumed, remaining %d", fx.quotas.remaining)
	}
}

func TestDispatch_AllFailedIsNotSuccess(t *testing.T) {
	fx := newEngineFixture(10000, 50)
	fx.sender.failPhones = map[string]bool{"+905551": true, "+905552": true}

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551", "+905552")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if result.Success {
		t.Errorf("expected Success=false when nothing was delivered")
	}
	if result.ActualCostCents != 0 {
		t.Errorf("expected zero actual cost, got %d", result.ActualCostCents)
	}
	// Everything reserved comes back.
	if fx.ledger.balances["acct-1"] != 10000 {
		t.Errorf("expected full refund, balance is %d", fx.ledger.balances["acct-1"])
	}
	if fx.quotas.remaining != 1000 {
		t.Errorf("expected no quota consumed, remaining %d", fx.quotas.remaining)
	}
}

func TestDispatch_PreAuthorizedSkipsDebit(t *testing.T) {
	fx := newEngineFixture(10000, 50)

	req := baseRequest(recipients("+905551", "+905552"))
	req.PreAuthorized = true
	req.ExternalReservationID = "RSV-upstream-42"

	result, err := fx.engine.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no ledger entries for pre-authorized dispatch")
	}
	if result.TransactionCode != "RSV-upstream-42" {
		t.Errorf("expected upstream reservation id carried through, got %q", result.TransactionCode)
	}
	if result.BalanceAfterCents != -1 {
		t.Errorf("expected balance sentinel -1, got %d", result.BalanceAfterCents)
	}
	if result.Metadata["preAuthorized"] != "true" {
		t.Errorf("expected preAuthorized metadata, got %v", result.Metadata)
	}
	if result.ActualCostCents != 100 {
		t.Errorf("expected actual cost reported for reconciliation, got %d", result.ActualCostCents)
	}
}

func TestDispatch_ZeroUnitPriceNeverTouchesLedger(t *testing.T) {
	fx := newEngineFixture(0, 0)

	result, err := fx.engine.Dispatch(context.Background(), baseRequest(recipients("+905551")))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if result.SentCount != 1 {
		t.Fatalf("expected delivery, got %+v", result)
	}
	if len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("expected no entries for a free dispatch")
	}
}

func TestEstimateCost(t *testing.T) {
	fx := newEngineFixture(1000, 50)

	estimate, err := fx.engine.EstimateCost(context.Background(), "acct-1", domain.KindCampaign, 10)
	if err != nil {
		t.Fatalf("EstimateCost returned error: %v", err)
	}
	if !estimate.Sufficient || estimate.TotalCostCents != 500 || estimate.BalanceAfterCents != 500 {
		t.Errorf("unexpected estimate %+v", estimate)
	}

	estimate, err = fx.engine.EstimateCost(context.Background(), "acct-1", domain.KindCampaign, 30)
	if err != nil {
		t.Fatalf("EstimateCost returned error: %v", err)
	}
	if estimate.Sufficient {
		t.Errorf("expected insufficient for cost 1500 with balance 1000")
	}
	if estimate.ShortageCents != 500 {
		t.Errorf("expected shortage 500, got %d", estimate.ShortageCents)
	}

	if len(fx.ledger.entries["acct-1"]) != 0 {
		t.Errorf("estimate must not write ledger entries")
	}
}
