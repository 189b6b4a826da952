package handlers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/rayhan/internal/services"
	"github.com/example/rayhan/internal/utils"
)

// CheckoutHandler exposes the payment lifecycle to the order platform.
type CheckoutHandler struct {
	checkout *services.CheckoutService
	sessions services.SessionRepository
}

func NewCheckoutHandler(checkout *services.CheckoutService, sessions services.SessionRepository) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, sessions: sessions}
}

type initiateRequest struct {
	Provider     string          `json:"provider"`
	UserID       string          `json:"user_id"`
	Amount       int64           `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
	ReturnURL    string          `json:"return_url"`
	OrderDetails json.RawMessage `json:"order_details"`
}

// Initiate creates a payment session and returns the hosted-checkout URL.
func (h *CheckoutHandler) Initiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.checkout.Initiate(c.Context(), services.InitiateParams{
		Provider:     strings.TrimSpace(req.Provider),
		UserID:       req.UserID,
		Amount:       req.Amount,
		CurrencyCode: req.CurrencyCode,
		ReturnURL:    req.ReturnURL,
		OrderDetails: req.OrderDetails,
	})
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedProvider) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.JSON(result)
}

type updateRequest struct {
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

// Update reprices a pending session and regenerates its payment URL.
func (h *CheckoutHandler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.checkout.Update(c.Context(), c.Params("id"), req.Amount, req.ReturnURL)
	if err != nil {
		return mapCheckoutError(err)
	}

	return c.JSON(result)
}

// Status reports the session state consumed by the order-placement workflow.
func (h *CheckoutHandler) Status(c *fiber.Ctx) error {
	status, err := h.checkout.GetStatus(c.Context(), c.Params("id"))
	if err != nil {
		return mapCheckoutError(err)
	}
	return c.JSON(fiber.Map{"status": status})
}

// Capture finalizes an authorized payment.
func (h *CheckoutHandler) Capture(c *fiber.Ctx) error {
	if err := h.checkout.Capture(c.Context(), c.Params("id")); err != nil {
		return mapCheckoutError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Cancel voids a payment before capture.
func (h *CheckoutHandler) Cancel(c *fiber.Ctx) error {
	if err := h.checkout.Cancel(c.Context(), c.Params("id")); err != nil {
		return mapCheckoutError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Refund reverses a captured payment.
func (h *CheckoutHandler) Refund(c *fiber.Ctx) error {
	if err := h.checkout.Refund(c.Context(), c.Params("id")); err != nil {
		return mapCheckoutError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListSessions returns payment session history for back-office reconciliation.
func (h *CheckoutHandler) ListSessions(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	filter := services.SessionListFilter{
		Provider: strings.TrimSpace(c.Query("provider")),
		Status:   strings.TrimSpace(c.Query("status")),
		UserID:   strings.TrimSpace(c.Query("user_id")),
	}

	sessions, total, err := h.sessions.ListSessions(c.Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return mapCheckoutError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sessions,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

func mapCheckoutError(err error) error {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "payment session not found")
	case errors.Is(err, services.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, "invalid payment state transition")
	default:
		return err
	}
}
