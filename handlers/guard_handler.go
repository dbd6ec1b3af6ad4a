package handlers

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/internal/guard"
	"github.com/example/dispatch-guard-service/pkg/response"
	"github.com/example/dispatch-guard-service/pkg/validator"
)

type guardValidator interface {
	ValidateAll(ctx context.Context, in guard.ValidateInput) (*guard.ValidationReport, error)
	IsDuplicateRecipient(ctx context.Context, accountID, normalizedPhone string) (bool, error)
}

type GuardHandler struct {
	pipeline guardValidator
}

func NewGuardHandler(pipeline guardValidator) *GuardHandler {
	return &GuardHandler{pipeline: pipeline}
}

type ValidateAPIRequest struct {
	AccountID      string `json:"accountId" validate:"required"`
	RecipientCount int    `json:"recipientCount" validate:"min=0"`
	Body           string `json:"body"`
	FreeText       bool   `json:"freeText"`
	Approved       bool   `json:"approved"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Validate godoc
// @Summary Dry-run the guard pipeline
// @Description Runs every guard rule over the request without any side effects
// @Tags guard
// @Accept json
// @Produce json
// @Param x-dgs-auth-key header string true "API key for dispatch"
// @Param request body ValidateAPIRequest true "Validation input"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/guard/validate [post]
func (h *GuardHandler) Validate(c echo.Context) error {
	var req ValidateAPIRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	report, err := h.pipeline.ValidateAll(c.Request().Context(), guard.ValidateInput{
		AccountID:      req.AccountID,
		RecipientCount: req.RecipientCount,
		Content: domain.TemplateContent{
			Body:     req.Body,
			FreeText: req.FreeText,
			Approved: req.Approved,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return response.InternalServerError(c, err)
	}

	// Low-balance / low-quota warnings ride on the envelope so callers do
	// not have to dig into the report.
	if len(report.Warnings) > 0 {
		return response.OkWithWarnings(c, report, report.Warnings)
	}

	return response.Ok(c, report)
}

// CheckRecipient godoc
// @Summary Check recipient suppression
// @Description Reports whether the phone is inside the account's duplicate-suppression window
// @Tags guard
// @Produce json
// @Param x-dgs-auth-key header string true "API key for dispatch"
// @Param id path string true "Account id"
// @Param phone query string true "Phone number"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/guard/accounts/{id}/recipients [get]
func (h *GuardHandler) CheckRecipient(c echo.Context) error {
	accountID := c.Param("id")
	phone := c.QueryParam("phone")
	if phone == "" {
		return response.BadRequest(c, fmt.Errorf("phone query parameter is required"))
	}

	duplicate, err := h.pipeline.IsDuplicateRecipient(
		c.Request().Context(), accountID, domain.NormalizePhone(phone))
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"accountId": accountID,
		"phone":     domain.NormalizePhone(phone),
		"duplicate": duplicate,
	})
}
