package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/rayhan/internal/otp"
	"github.com/example/rayhan/internal/services"
)

// Purposes a code may be requested for.
var otpPurposes = map[string]bool{
	"register":       true,
	"reset_password": true,
	"change_phone":   true,
}

// OTPHandler serves code issuance and verification for account flows.
type OTPHandler struct {
	store *otp.Store
	sms   *services.SMSService
}

func NewOTPHandler(store *otp.Store, sms *services.SMSService) *OTPHandler {
	return &OTPHandler{store: store, sms: sms}
}

type otpRequestBody struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

// RequestCode issues a one-time code, enforcing the per-phone rate limit and
// the re-issuance cooldown.
func (h *OTPHandler) RequestCode(c *fiber.Ctx) error {
	var req otpRequestBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone is required")
	}
	if !otpPurposes[req.Purpose] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown purpose")
	}

	if !h.store.CheckRateLimit(c.Context(), phone) {
		return fiber.NewError(fiber.StatusTooManyRequests, "too many requests for this phone")
	}

	code, err := h.store.RequestCode(c.Context(), phone, req.Purpose)
	if err != nil {
		if errors.Is(err, otp.ErrCooldownActive) {
			return fiber.NewError(fiber.StatusTooManyRequests, "code already sent, retry later")
		}
		return err
	}

	go func() {
		if err := h.sms.SendCode(phone, code); err != nil {
			log.Printf("[SMS] code delivery to %s failed: %v", phone, err)
		}
	}()

	resp := fiber.Map{"success": true}
	if !h.sms.Enabled() {
		// Dev fallback, mirrors disabled-gateway behavior.
		resp["code"] = code
	}
	return c.JSON(resp)
}

type otpVerifyBody struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

// VerifyCode consumes the stored code and mints the one-time verified ticket.
func (h *OTPHandler) VerifyCode(c *fiber.Ctx) error {
	var req otpVerifyBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" || req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone and code are required")
	}
	if !otpPurposes[req.Purpose] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown purpose")
	}

	if !h.store.VerifyCode(c.Context(), phone, req.Purpose, req.Code) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid verification code")
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"verified": true,
	})
}
