package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		// Account rows exist only as the per-account lock anchor for
		// balance-mutating ledger operations.
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id VARCHAR(64) PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			entry_type VARCHAR(10) NOT NULL,
			amount_cents BIGINT NOT NULL,
			transaction_code VARCHAR(64) NOT NULL,
			original_transaction_code VARCHAR(64),
			reason VARCHAR(255) NOT NULL DEFAULT '',
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_ledger_account (account_id),
			INDEX idx_ledger_tx_code (transaction_code),
			INDEX idx_ledger_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		// Unit prices per account and message kind. The empty account id
		// row holds the platform default for a kind.
		`CREATE TABLE IF NOT EXISTS account_pricing (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL DEFAULT '',
			message_kind VARCHAR(20) NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_pricing (account_id, message_kind)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")
	return nil
}

// SeedTestData populates demo pricing and a funded demo account for local
// development. Skips when the ledger already has entries.
func SeedTestData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM ledger_entries")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Ledger already has %d entries, skipping seed", count)
		return nil
	}

	prices := []struct {
		kind  string
		cents int64
	}{
		{"text", 50},
		{"template", 50},
		{"campaign", 45},
		{"broadcast", 45},
		{"flow", 55},
		{"api", 60},
	}

	for _, p := range prices {
		_, err := db.Exec(
			`INSERT INTO account_pricing (account_id, message_kind, unit_price_cents)
			 VALUES ('', ?, ?)
			 ON DUPLICATE KEY UPDATE unit_price_cents = VALUES(unit_price_cents)`,
			p.kind, p.cents,
		)
		if err != nil {
			return fmt.Errorf("failed to seed pricing: %w", err)
		}
	}

	const demoAccount = "demo-account"
	if _, err := db.Exec("INSERT IGNORE INTO accounts (account_id) VALUES (?)", demoAccount); err != nil {
		return fmt.Errorf("failed to seed demo account: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO ledger_entries (account_id, entry_type, amount_cents, transaction_code, reason)
		 VALUES (?, 'credit', 100000, 'SEED-initial-topup', 'seed: initial top-up')`,
		demoAccount,
	)
	if err != nil {
		return fmt.Errorf("failed to seed demo balance: %w", err)
	}

	logger.Infof("Seeded %d default prices and a funded demo account", len(prices))
	return nil
}
