package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/response"
	"github.com/example/dispatch-guard-service/pkg/validator"
)

type accountLedger interface {
	CurrentBalance(ctx context.Context, accountID string) (int64, error)
	Credit(ctx context.Context, accountID string, amountCents int64, originalTransactionCode, reason string, metadata map[string]string) (*domain.LedgerEntry, error)
	EntriesByTransactionCode(ctx context.Context, code string) ([]domain.LedgerEntry, error)
}

type safetyView interface {
	Current(ctx context.Context, accountID string) (*domain.SafetyAction, error)
	ThrottleLevel(ctx context.Context, accountID string) (domain.ThrottleProfile, error)
	Reset(ctx context.Context, accountID string) error
}

type quotaAdmin interface {
	QuotaAvailable(ctx context.Context, accountID string) (int64, error)
	SetQuota(ctx context.Context, accountID string, n int64) error
}

type AccountHandler struct {
	ledger accountLedger
	safety safetyView
	quotas quotaAdmin
}

func NewAccountHandler(ledger accountLedger, safety safetyView, quotas quotaAdmin) *AccountHandler {
	return &AccountHandler{ledger: ledger, safety: safety, quotas: quotas}
}

type TopUpAPIRequest struct {
	AmountCents int64  `json:"amountCents" validate:"required,min=1"`
	Reference   string `json:"reference,omitempty"`
}

type SetQuotaAPIRequest struct {
	Quota int64 `json:"quota" validate:"min=0"`
}

// GetBalance godoc
// @Summary Current account balance
// @Tags accounts
// @Produce json
// @Param id path string true "Account id"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/balance [get]
func (h *AccountHandler) GetBalance(c echo.Context) error {
	accountID := c.Param("id")

	balance, err := h.ledger.CurrentBalance(c.Request().Context(), accountID)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"accountId":    accountID,
		"balanceCents": balance,
	})
}

// TopUp godoc
// @Summary Credit an account balance
// @Tags accounts
// @Accept json
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Param id path string true "Account id"
// @Param request body TopUpAPIRequest true "Top-up amount"
// @Success 201 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/credit [post]
func (h *AccountHandler) TopUp(c echo.Context) error {
	accountID := c.Param("id")

	var req TopUpAPIRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	var metadata map[string]string
	if req.Reference != "" {
		metadata = map[string]string{"reference": req.Reference}
	}

	entry, err := h.ledger.Credit(c.Request().Context(), accountID, req.AmountCents, "", "top-up", metadata)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Balance credited", entry)
}

// GetSafety godoc
// @Summary Current safety posture for an account
// @Tags accounts
// @Produce json
// @Param id path string true "Account id"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/safety [get]
func (h *AccountHandler) GetSafety(c echo.Context) error {
	accountID := c.Param("id")
	ctx := c.Request().Context()

	action, err := h.safety.Current(ctx, accountID)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	profile, err := h.safety.ThrottleLevel(ctx, accountID)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	payload := map[string]any{
		"accountId": accountID,
		"action":    domain.ActionNone,
		"throttle":  profile,
	}
	if action != nil {
		payload["action"] = action.Action
		payload["reason"] = action.Reason
		payload["appliedAt"] = action.AppliedAt
		payload["expiresAt"] = action.ExpiresAt
	}

	return response.Ok(c, payload)
}

// ResetSafety godoc
// @Summary Manually clear the account's safety action
// @Description Operator reset; the next metrics evaluation may re-apply an action
// @Tags accounts
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Param id path string true "Account id"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/safety [delete]
func (h *AccountHandler) ResetSafety(c echo.Context) error {
	accountID := c.Param("id")

	if err := h.safety.Reset(c.Request().Context(), accountID); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"accountId": accountID,
		"action":    domain.ActionNone,
	})
}

// GetTransaction godoc
// @Summary Ledger entries for one transaction
// @Description Returns the original debit and any refunds referencing it, for manual reconciliation
// @Tags accounts
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Param code path string true "Transaction code"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/transactions/{code} [get]
func (h *AccountHandler) GetTransaction(c echo.Context) error {
	code := c.Param("code")

	entries, err := h.ledger.EntriesByTransactionCode(c.Request().Context(), code)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if len(entries) == 0 {
		return response.NotFound(c, "no ledger entries for transaction "+code)
	}

	return response.Ok(c, map[string]any{
		"transactionCode": code,
		"entries":         entries,
	})
}

// GetQuota godoc
// @Summary Remaining message quota
// @Tags accounts
// @Produce json
// @Param id path string true "Account id"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/quota [get]
func (h *AccountHandler) GetQuota(c echo.Context) error {
	accountID := c.Param("id")

	quota, err := h.quotas.QuotaAvailable(c.Request().Context(), accountID)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"accountId": accountID,
		"quota":     quota,
	})
}

// SetQuota godoc
// @Summary Set the message quota counter
// @Tags accounts
// @Accept json
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Param id path string true "Account id"
// @Param request body SetQuotaAPIRequest true "New quota"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/accounts/{id}/quota [put]
func (h *AccountHandler) SetQuota(c echo.Context) error {
	accountID := c.Param("id")

	var req SetQuotaAPIRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if err := h.quotas.SetQuota(c.Request().Context(), accountID, req.Quota); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"accountId": accountID,
		"quota":     req.Quota,
	})
}
