package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/internal/domain"
)

// Client pulls per-account failure-rate and risk-score metrics from the
// upstream metrics source on behalf of the safety monitor.
type Client struct {
	httpClient *resty.Client
	metricsURL string
}

type metricsResponse struct {
	Accounts []domain.AccountMetrics `json:"accounts"`
}

func NewClient(cfg environments.MetricsConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("x-dgs-auth-key", cfg.AuthKey)

	return &Client{
		httpClient: client,
		metricsURL: cfg.URL,
	}
}

func (c *Client) FetchAccountMetrics(ctx context.Context) ([]domain.AccountMetrics, error) {
	var result metricsResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get(c.metricsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account metrics: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected metrics status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return result.Accounts, nil
}
