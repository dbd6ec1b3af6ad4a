package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func newMockedClient(t *testing.T) (*Client, *mock.Client) {
	ctrl := gomock.NewController(t)
	mocked := mock.NewClient(ctrl)
	return &Client{client: mocked}, mocked
}

func TestReserveQuota_TakesWhenAvailable(t *testing.T) {
	c, mocked := newMockedClient(t)
	ctx := context.Background()

	mocked.EXPECT().Do(ctx, mock.Match("DECRBY", "quota:acct-1", "4")).
		Return(mock.Result(mock.ValkeyInt64(1)))

	remaining, ok, err := c.ReserveQuota(ctx, "acct-1", 4)
	if err != nil {
		t.Fatalf("ReserveQuota returned error: %v", err)
	}
	if !ok || remaining != 1 {
		t.Errorf("expected reservation granted with 1 remaining, got ok=%v remaining=%d", ok, remaining)
	}
}

// TestReserveQuota_RefusalUndoesTheDecrement verifies that an overdrawing
// decrement is put back immediately, leaving the counter where it was.
func TestReserveQuota_RefusalUndoesTheDecrement(t *testing.T) {
	c, mocked := newMockedClient(t)
	ctx := context.Background()

	gomock.InOrder(
		mocked.EXPECT().Do(ctx, mock.Match("DECRBY", "quota:acct-1", "4")).
			Return(mock.Result(mock.ValkeyInt64(-3))),
		mocked.EXPECT().Do(ctx, mock.Match("INCRBY", "quota:acct-1", "4")).
			Return(mock.Result(mock.ValkeyInt64(1))),
	)

	remaining, ok, err := c.ReserveQuota(ctx, "acct-1", 4)
	if err != nil {
		t.Fatalf("ReserveQuota returned error: %v", err)
	}
	if ok {
		t.Errorf("expected reservation refused when the counter would go negative")
	}
	if remaining != 1 {
		t.Errorf("expected the pre-reservation count 1 reported back, got %d", remaining)
	}
}

func TestReleaseQuota_GivesBack(t *testing.T) {
	c, mocked := newMockedClient(t)
	ctx := context.Background()

	mocked.EXPECT().Do(ctx, mock.Match("INCRBY", "quota:acct-1", "2")).
		Return(mock.Result(mock.ValkeyInt64(3)))

	if err := c.ReleaseQuota(ctx, "acct-1", 2); err != nil {
		t.Fatalf("ReleaseQuota returned error: %v", err)
	}
}

// TestMarkRecipientSent_SlidesTheWindow verifies the mark is a plain
// SET with EX: re-marking overwrites the entry and refreshes the TTL
// instead of leaving the original expiry in place.
func TestMarkRecipientSent_SlidesTheWindow(t *testing.T) {
	c, mocked := newMockedClient(t)
	ctx := context.Background()

	mocked.EXPECT().Do(ctx, mock.MatchFn(func(cmd []string) bool {
		if len(cmd) != 5 || cmd[0] != "SET" || cmd[1] != "supp:acct-1:+905551234567" {
			return false
		}
		return cmd[3] == "EX" && cmd[4] == "86400"
	}, "SET supp key with EX and without NX")).
		Return(mock.Result(mock.ValkeyString("OK")))

	if err := c.MarkRecipientSent(ctx, "acct-1", "+905551234567", 24*time.Hour); err != nil {
		t.Fatalf("MarkRecipientSent returned error: %v", err)
	}
}

// TestStoreIdempotencyResult_RefusedWhenTripleExists verifies the NX
// write reports false instead of overwriting an existing record.
func TestStoreIdempotencyResult_RefusedWhenTripleExists(t *testing.T) {
	c, mocked := newMockedClient(t)
	ctx := context.Background()

	mocked.EXPECT().Do(ctx, mock.Match(
		"SET", "idem:acct-1:dispatch:key-1", `{"transactionCode":"DSP-x"}`, "NX", "EX", "86400",
	)).Return(mock.Result(mock.ValkeyNil()))

	stored, err := c.StoreIdempotencyResult(ctx, "key-1", "acct-1", "dispatch", `{"transactionCode":"DSP-x"}`, 24*time.Hour)
	if err != nil {
		t.Fatalf("StoreIdempotencyResult returned error: %v", err)
	}
	if stored {
		t.Errorf("expected the existing record to win, got stored=true")
	}
}
