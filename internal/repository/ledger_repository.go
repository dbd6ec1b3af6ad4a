package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/dispatch-guard-service/internal/domain"
)

// LedgerRepository is the sole source of truth for account balances. The
// ledger is append-only: balance is always the sum of credits minus the
// sum of debits, recomputed inside the same transaction that mutates it.
//
// Every balance-mutating operation locks the account row first, so
// concurrent debits against one account serialize and can never both pass
// the balance check on the same pre-debit balance. Different accounts
// never contend.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const balanceQuery = `
	SELECT COALESCE(SUM(CASE WHEN entry_type = 'credit' THEN amount_cents ELSE -amount_cents END), 0)
	FROM ledger_entries
	WHERE account_id = ?
`

const insertEntryQuery = `
	INSERT INTO ledger_entries
		(account_id, entry_type, amount_cents, transaction_code, original_transaction_code, reason, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

func marshalMetadata(metadata map[string]string) (*string, error) {
	if len(metadata) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry metadata: %w", err)
	}

	s := string(data)
	return &s, nil
}

// lockAccount makes sure the account row exists and takes its row lock for
// the rest of the transaction.
func (r *LedgerRepository) lockAccount(ctx context.Context, tx *sqlx.Tx, accountID string) error {
	if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO accounts (account_id) VALUES (?)", accountID); err != nil {
		return fmt.Errorf("failed to ensure account row: %w", err)
	}

	var locked string
	err := tx.GetContext(ctx, &locked, "SELECT account_id FROM accounts WHERE account_id = ? FOR UPDATE", accountID)
	if err != nil {
		return fmt.Errorf("failed to lock account row: %w", err)
	}

	return nil
}

// Debit appends a debit entry. It is rejected with
// domain.ErrInsufficientBalance when the post-debit balance would go
// negative; a debit that lands exactly on zero is accepted.
func (r *LedgerRepository) Debit(
	ctx context.Context,
	accountID string,
	amountCents int64,
	transactionCode string,
	reason string,
	metadata map[string]string,
) (*domain.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amountCents)
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := r.lockAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, balanceQuery, accountID); err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}

	if balance-amountCents < 0 {
		return nil, fmt.Errorf(
			"account %s balance %d cannot cover debit of %d: %w",
			accountID, balance, amountCents, domain.ErrInsufficientBalance,
		)
	}

	result, err := tx.ExecContext(ctx, insertEntryQuery,
		accountID, domain.EntryDebit, amountCents, transactionCode, nil, reason, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to insert debit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get debit entry id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	return r.GetEntry(ctx, id)
}

// Credit appends a credit (refund/top-up) entry. Credits only increase the
// balance, so they are always accepted; they still take the account lock
// so balance reads stay consistent with concurrent debits.
func (r *LedgerRepository) Credit(
	ctx context.Context,
	accountID string,
	amountCents int64,
	originalTransactionCode string,
	reason string,
	metadata map[string]string,
) (*domain.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amountCents)
	}

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin credit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := r.lockAccount(ctx, tx, accountID); err != nil {
		return nil, err
	}

	var original *string
	if originalTransactionCode != "" {
		original = &originalTransactionCode
	}

	result, err := tx.ExecContext(ctx, insertEntryQuery,
		accountID, domain.EntryCredit, amountCents, domain.NewTransactionCode("RFD"), original, reason, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get credit entry id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	return r.GetEntry(ctx, id)
}

// HasSufficientBalance reports whether the current balance covers the
// amount. Read-only and advisory: the binding check happens under the
// account row lock inside Debit.
func (r *LedgerRepository) HasSufficientBalance(ctx context.Context, accountID string, amountCents int64) (bool, error) {
	balance, err := r.CurrentBalance(ctx, accountID)
	if err != nil {
		return false, err
	}

	return balance >= amountCents, nil
}

func (r *LedgerRepository) CurrentBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	if err := r.db.GetContext(ctx, &balance, balanceQuery, accountID); err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

func (r *LedgerRepository) GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	query := `
		SELECT id, account_id, entry_type, amount_cents, transaction_code,
		       original_transaction_code, reason, metadata, created_at
		FROM ledger_entries
		WHERE id = ?
	`

	var entry domain.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return &entry, nil
}

// EntriesByTransactionCode returns every entry tied to a dispatch, the
// original debit plus any refunds referencing it.
func (r *LedgerRepository) EntriesByTransactionCode(ctx context.Context, code string) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, account_id, entry_type, amount_cents, transaction_code,
		       original_transaction_code, reason, metadata, created_at
		FROM ledger_entries
		WHERE transaction_code = ? OR original_transaction_code = ?
		ORDER BY id ASC
	`

	var entries []domain.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, code, code); err != nil {
		return nil, fmt.Errorf("failed to get entries for transaction %s: %w", code, err)
	}

	return entries, nil
}
