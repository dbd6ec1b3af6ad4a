package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/example/dispatch-guard-service/internal/dispatch"
	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/pkg/response"
	"github.com/example/dispatch-guard-service/pkg/validator"
)

// dispatchEngine is the minimal engine surface the handler needs.
type dispatchEngine interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error)
	EstimateCost(ctx context.Context, accountID string, kind domain.MessageKind, recipientCount int) (*domain.CostEstimate, error)
}

type DispatchHandler struct {
	engine dispatchEngine
}

func NewDispatchHandler(engine dispatchEngine) *DispatchHandler {
	return &DispatchHandler{engine: engine}
}

type DispatchAPIRequest struct {
	AccountID             string   `json:"accountId" validate:"required"`
	Recipients            []string `json:"recipients" validate:"required,min=1,dive,required"`
	Body                  string   `json:"body" validate:"required"`
	FreeText              bool     `json:"freeText"`
	Approved              bool     `json:"approved"`
	Kind                  string   `json:"kind" validate:"required,oneof=text template campaign broadcast flow api"`
	CampaignID            string   `json:"campaignId,omitempty"`
	BroadcastID           string   `json:"broadcastId,omitempty"`
	FlowID                string   `json:"flowId,omitempty"`
	IdempotencyKey        string   `json:"idempotencyKey,omitempty"`
	PreAuthorized         bool     `json:"preAuthorized"`
	ExternalReservationID string   `json:"externalReservationId,omitempty" validate:"required_if=PreAuthorized true"`
}

type EstimateAPIRequest struct {
	AccountID      string `json:"accountId" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=text template campaign broadcast flow api"`
	RecipientCount int    `json:"recipientCount" validate:"required,min=1"`
}

// Dispatch godoc
// @Summary Authorize and execute an outbound dispatch
// @Description Runs the guard pipeline, reserves funds, sends to every unique recipient and reconciles the reservation
// @Tags dispatch
// @Accept json
// @Produce json
// @Param x-dgs-auth-key header string true "API key for dispatch"
// @Param request body DispatchAPIRequest true "Dispatch request"
// @Success 200 {object} response.SuccessResponse
// @Failure 402 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/dispatch [post]
func (h *DispatchHandler) Dispatch(c echo.Context) error {
	var req DispatchAPIRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.engine.Dispatch(c.Request().Context(), toDomainRequest(req))
	if err != nil {
		return h.mapDispatchError(c, err)
	}

	return response.Ok(c, result)
}

// EstimateCost godoc
// @Summary Project the cost of a dispatch
// @Description Read-only cost estimate with no side effects
// @Tags dispatch
// @Accept json
// @Produce json
// @Param x-dgs-auth-key header string true "API key for dispatch"
// @Param request body EstimateAPIRequest true "Estimate request"
// @Success 200 {object} response.SuccessResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/dispatch/estimate [post]
func (h *DispatchHandler) EstimateCost(c echo.Context) error {
	var req EstimateAPIRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	estimate, err := h.engine.EstimateCost(
		c.Request().Context(), req.AccountID, domain.MessageKind(req.Kind), req.RecipientCount)
	if err != nil {
		if errors.Is(err, domain.ErrPricingNotConfigured) {
			return response.ServiceUnavailable(c, err)
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, estimate)
}

func (h *DispatchHandler) mapDispatchError(c echo.Context, err error) error {
	var validationErr *dispatch.ValidationError
	var duplicateErr *dispatch.DuplicateRequestError
	var rollbackErr *dispatch.RollbackError

	switch {
	case errors.As(err, &duplicateErr):
		return response.Conflict(c, duplicateErr)
	case errors.As(err, &validationErr):
		return response.UnprocessableEntity(c, "Dispatch request rejected", validationErr.Errors)
	case errors.Is(err, domain.ErrInsufficientBalance):
		return response.PaymentRequired(c, err)
	case errors.Is(err, domain.ErrPricingNotConfigured):
		return response.ServiceUnavailable(c, err)
	case errors.As(err, &rollbackErr):
		// Funds reserved but neither consumed nor returned; the body
		// carries the transaction code so operators can reconcile.
		return response.InternalServerError(c, rollbackErr)
	default:
		return response.InternalServerError(c, err)
	}
}

func toDomainRequest(req DispatchAPIRequest) domain.DispatchRequest {
	recipients := make([]domain.Recipient, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		recipients = append(recipients, domain.Recipient{
			RawPhone:        raw,
			NormalizedPhone: domain.NormalizePhone(raw),
		})
	}

	return domain.DispatchRequest{
		AccountID:  req.AccountID,
		Recipients: recipients,
		Content: domain.TemplateContent{
			Body:     req.Body,
			FreeText: req.FreeText,
			Approved: req.Approved,
		},
		Kind:                  domain.MessageKind(req.Kind),
		CampaignID:            req.CampaignID,
		BroadcastID:           req.BroadcastID,
		FlowID:                req.FlowID,
		IdempotencyKey:        req.IdempotencyKey,
		PreAuthorized:         req.PreAuthorized,
		ExternalReservationID: req.ExternalReservationID,
	}
}
