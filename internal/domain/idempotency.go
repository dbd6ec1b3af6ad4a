package domain

// DispatchReference is the compact summary stored as an idempotency
// record's reference, enough for a caller to recover the original outcome.
// It lives in the keyed store under the (key, account, action) triple with
// a TTL; a replay of the same triple within the TTL returns it instead of
// re-executing.
type DispatchReference struct {
	TransactionCode string `json:"transactionCode"`
	SentCount       int    `json:"sentCount"`
	FailedCount     int    `json:"failedCount"`
	ActualCostCents int64  `json:"actualCostCents"`
}
