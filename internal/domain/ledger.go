package domain

import "time"

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry is one row in the append-only ledger. An account's balance
// is the sum of its credits minus the sum of its debits; there is no
// separate balance column that can drift out of sync.
type LedgerEntry struct {
	ID                      int64     `db:"id" json:"id"`
	AccountID               string    `db:"account_id" json:"accountId"`
	Type                    EntryType `db:"entry_type" json:"type"`
	AmountCents             int64     `db:"amount_cents" json:"amountCents"`
	TransactionCode         string    `db:"transaction_code" json:"transactionCode"`
	OriginalTransactionCode *string   `db:"original_transaction_code" json:"originalTransactionCode,omitempty"`
	Reason                  string    `db:"reason" json:"reason"`
	Metadata                *string   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt               time.Time `db:"created_at" json:"createdAt"`
}
