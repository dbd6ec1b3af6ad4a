package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// Client wraps a Valkey connection with the keyed, TTL-expiring state the
// guard pipeline and dispatch engine share: idempotency records, recipient
// suppression marks, safety actions, risk scores and quota counters.
// Idempotency writes use SET NX so two callers can never both create the
// same record; suppression marks overwrite so each delivery slides the
// window forward.
type Client struct {
	client valkey.Client
}

const (
	idempotencyKeyPrefix = "idem:"
	suppressionKeyPrefix = "supp:"
	safetyKeyPrefix      = "safety:"
	riskScoreKeyPrefix   = "risk:"
	quotaKeyPrefix       = "quota:"
)

func NewClient(cfg environments.ValkeyConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	logger.Infof("Connected to Valkey")

	return &Client{client: client}, nil
}

func idempotencyKey(accountID, action, key string) string {
	return fmt.Sprintf("%s%s:%s:%s", idempotencyKeyPrefix, accountID, action, key)
}

func suppressionKey(accountID, phone string) string {
	return fmt.Sprintf("%s%s:%s", suppressionKeyPrefix, accountID, phone)
}

// CheckIdempotencyKey reports whether the (key, account, action) triple has
// been used within its TTL. The stored reference is returned for replays.
func (c *Client) CheckIdempotencyKey(ctx context.Context, key, accountID, action string) (bool, string, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(idempotencyKey(accountID, action, key)).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to check idempotency key: %w", result.Error())
	}

	reference, err := result.ToString()
	if err != nil {
		return false, "", fmt.Errorf("failed to read idempotency record: %w", err)
	}

	return true, reference, nil
}

// StoreIdempotencyResult records the result reference for a triple. The
// write is check-and-set: it reports false without overwriting when the
// triple already exists.
func (c *Client) StoreIdempotencyResult(
	ctx context.Context,
	key, accountID, action, reference string,
	ttl time.Duration,
) (bool, error) {
	result := c.client.Do(ctx, c.client.B().
		Set().Key(idempotencyKey(accountID, action, key)).Value(reference).
		Nx().Ex(ttl).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			// NX refused: the triple was created by another caller.
			return false, nil
		}
		return false, fmt.Errorf("failed to store idempotency record: %w", result.Error())
	}

	return true, nil
}

// IsDuplicateRecipient reports whether the phone was already marked sent
// for this account within the suppression window. Suppression is
// account-scoped: the same phone under another account never collides.
func (c *Client) IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error) {
	result := c.client.Do(ctx, c.client.B().Exists().Key(suppressionKey(accountID, normalizedPhone)).Build())
	count, err := result.AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check recipient suppression: %w", err)
	}

	return count > 0, nil
}

// MarkRecipientSent opens the suppression window, or slides it forward:
// re-marking an already-suppressed phone rewrites the entry with a fresh
// TTL.
func (c *Client) MarkRecipientSent(ctx context.Context, accountID, normalizedPhone string, window time.Duration) error {
	err := c.client.Do(ctx, c.client.B().
		Set().Key(suppressionKey(accountID, normalizedPhone)).
		Value(time.Now().UTC().Format(time.RFC3339)).
		Ex(window).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to mark recipient sent: %w", err)
	}

	return nil
}

func (c *Client) SetSafetyAction(ctx context.Context, action domain.SafetyAction, ttl time.Duration) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal safety action: %w", err)
	}

	key := safetyKeyPrefix + action.AccountID
	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store safety action: %w", err)
	}

	logger.Debugf("Stored safety action %s for account %s (ttl %v)", action.Action, action.AccountID, ttl)

	return nil
}

// CurrentSafetyAction returns nil when the account has no unexpired action.
func (c *Client) CurrentSafetyAction(ctx context.Context, accountID string) (*domain.SafetyAction, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(safetyKeyPrefix+accountID).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get safety action: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read safety action: %w", err)
	}

	var action domain.SafetyAction
	if err := json.Unmarshal([]byte(data), &action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal safety action: %w", err)
	}

	return &action, nil
}

// ClearSafetyAction is the manual reset path for operators.
func (c *Client) ClearSafetyAction(ctx context.Context, accountID string) error {
	err := c.client.Do(ctx, c.client.B().Del().Key(safetyKeyPrefix+accountID).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to clear safety action: %w", err)
	}

	return nil
}

func (c *Client) SetRiskScore(ctx context.Context, accountID string, score float64, ttl time.Duration) error {
	value := strconv.FormatFloat(score, 'f', -1, 64)
	err := c.client.Do(ctx, c.client.B().Set().Key(riskScoreKeyPrefix+accountID).Value(value).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store risk score: %w", err)
	}

	return nil
}

// RiskScore returns the last persisted risk score and whether one exists.
func (c *Client) RiskScore(ctx context.Context, accountID string) (float64, bool, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(riskScoreKeyPrefix+accountID).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get risk score: %w", result.Error())
	}

	value, err := result.ToString()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read risk score: %w", err)
	}

	score, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse risk score %q: %w", value, err)
	}

	return score, true, nil
}

// QuotaAvailable returns the remaining message quota. A missing counter
// means zero quota, not unlimited.
func (c *Client) QuotaAvailable(ctx context.Context, accountID string) (int64, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(quotaKeyPrefix+accountID).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get quota: %w", result.Error())
	}

	quota, err := result.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}

	return quota, nil
}

// ReserveQuota atomically takes n messages from the counter. When the
// decrement would push the counter negative it is undone and the
// reservation refused, so concurrent callers can never jointly overdraw.
func (c *Client) ReserveQuota(ctx context.Context, accountID string, n int64) (int64, bool, error) {
	result := c.client.Do(ctx, c.client.B().Decrby().Key(quotaKeyPrefix+accountID).Decrement(n).Build())
	remaining, err := result.AsInt64()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve quota: %w", err)
	}

	if remaining < 0 {
		err := c.client.Do(ctx, c.client.B().Incrby().Key(quotaKeyPrefix+accountID).Increment(n).Build()).Error()
		if err != nil {
			return 0, false, fmt.Errorf("failed to undo refused quota reservation: %w", err)
		}

		return remaining + n, false, nil
	}

	return remaining, true, nil
}

// ReleaseQuota gives back the unused share of a reservation.
func (c *Client) ReleaseQuota(ctx context.Context, accountID string, n int64) error {
	err := c.client.Do(ctx, c.client.B().Incrby().Key(quotaKeyPrefix+accountID).Increment(n).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}

	return nil
}

func (c *Client) SetQuota(ctx context.Context, accountID string, n int64) error {
	value := strconv.FormatInt(n, 10)
	err := c.client.Do(ctx, c.client.B().Set().Key(quotaKeyPrefix+accountID).Value(value).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to set quota: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
