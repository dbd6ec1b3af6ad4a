package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/logger"
)

// Client talks to the outbound message gateway. An ordinary delivery
// failure comes back as a failed outcome in the response body; only
// transport-level problems (connection refused, unexpected status)
// surface as errors, which the dispatch engine treats as grounds for
// rollback.
type Client struct {
	httpClient *resty.Client
	gatewayURL string
}

type sendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type sendResponse struct {
	Status            string `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
}

func NewClient(cfg environments.GatewayConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-dgs-auth-key", cfg.AuthKey)

	return &Client{
		httpClient: client,
		gatewayURL: cfg.URL,
	}
}

func (c *Client) Send(ctx context.Context, recipient domain.Recipient, content domain.TemplateContent) (*domain.SendOutcome, error) {
	payload := sendRequest{
		To:      recipient.NormalizedPhone,
		Content: content.Body,
	}

	var gatewayResp sendResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&gatewayResp).
		Post(c.gatewayURL)

	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway: %w", err)
	}

	logger.Debugf("Gateway request for %s completed in %v (status: %d)",
		recipient.NormalizedPhone, duration, resp.StatusCode())

	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected gateway status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	outcome := &domain.SendOutcome{
		ProviderMessageID: gatewayResp.ProviderMessageID,
		Error:             gatewayResp.Error,
	}
	if gatewayResp.Status == "sent" {
		outcome.Status = domain.OutcomeSent
	} else {
		outcome.Status = domain.OutcomeFailed
	}

	return outcome, nil
}

func (c *Client) GetURL() string {
	return c.gatewayURL
}
