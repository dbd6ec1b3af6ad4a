package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/dispatch-guard-service/internal/domain"
)

// PricingRepository resolves the unit price for an account and message
// kind. An account-specific row wins; otherwise the platform default row
// (empty account id) applies. When neither exists the lookup fails with
// domain.ErrPricingNotConfigured; the engine never assumes a price.
type PricingRepository struct {
	db *sqlx.DB
}

func NewPricingRepository(db *sqlx.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

func (r *PricingRepository) CurrentUnitPrice(ctx context.Context, accountID string, kind domain.MessageKind) (int64, error) {
	query := `
		SELECT unit_price_cents
		FROM account_pricing
		WHERE account_id IN (?, '') AND message_kind = ?
		ORDER BY account_id = '' ASC
		LIMIT 1
	`

	var price int64
	if err := r.db.GetContext(ctx, &price, query, accountID, kind); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("no unit price for account %s kind %s: %w",
				accountID, kind, domain.ErrPricingNotConfigured)
		}
		return 0, fmt.Errorf("failed to resolve unit price: %w", err)
	}

	return price, nil
}

// SetUnitPrice upserts a price row. An empty account id sets the platform
// default for the kind.
func (r *PricingRepository) SetUnitPrice(ctx context.Context, accountID string, kind domain.MessageKind, unitPriceCents int64) error {
	if unitPriceCents < 0 {
		return fmt.Errorf("unit price must be non-negative, got %d", unitPriceCents)
	}

	query := `
		INSERT INTO account_pricing (account_id, message_kind, unit_price_cents)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE unit_price_cents = VALUES(unit_price_cents)
	`

	if _, err := r.db.ExecContext(ctx, query, accountID, kind, unitPriceCents); err != nil {
		return fmt.Errorf("failed to set unit price: %w", err)
	}

	return nil
}
