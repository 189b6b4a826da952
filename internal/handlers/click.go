package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/rayhan/internal/services"
)

// ClickHandler serves the Click Prepare/Complete callbacks.
type ClickHandler struct {
	click *services.ClickService
}

func NewClickHandler(click *services.ClickService) *ClickHandler {
	return &ClickHandler{click: click}
}

// clickCallbackBody accepts either a form-encoded or a JSON body. Numeric
// fields stay strings here: the sign formula hashes the raw text.
type clickCallbackBody struct {
	ClickTransID      string `json:"click_trans_id" form:"click_trans_id"`
	ServiceID         string `json:"service_id" form:"service_id"`
	ClickPaydocID     string `json:"click_paydoc_id" form:"click_paydoc_id"`
	MerchantTransID   string `json:"merchant_trans_id" form:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id" form:"merchant_prepare_id"`
	Amount            string `json:"amount" form:"amount"`
	Action            string `json:"action" form:"action"`
	Error             string `json:"error" form:"error"`
	ErrorNote         string `json:"error_note" form:"error_note"`
	SignTime          string `json:"sign_time" form:"sign_time"`
	SignString        string `json:"sign_string" form:"sign_string"`
}

// Prepare handles action=0 callbacks.
func (h *ClickHandler) Prepare(c *fiber.Ctx) error {
	req := parseClickRequest(c)
	return c.JSON(h.click.Prepare(c.Context(), req))
}

// Complete handles action=1 callbacks.
func (h *ClickHandler) Complete(c *fiber.Ctx) error {
	req := parseClickRequest(c)
	return c.JSON(h.click.Complete(c.Context(), req))
}

// Callback dispatches on the action field for processors configured with a
// single callback URL.
func (h *ClickHandler) Callback(c *fiber.Ctx) error {
	req := parseClickRequest(c)
	return c.JSON(h.click.Handle(c.Context(), req))
}

// parseClickRequest merges body fields with query parameters; body wins.
func parseClickRequest(c *fiber.Ctx) services.ClickRequest {
	var body clickCallbackBody
	_ = c.BodyParser(&body)

	pick := func(fromBody, key string) string {
		if fromBody != "" {
			return fromBody
		}
		return c.Query(key)
	}

	return services.ClickRequest{
		ClickTransID:      pick(body.ClickTransID, "click_trans_id"),
		ServiceID:         pick(body.ServiceID, "service_id"),
		ClickPaydocID:     pick(body.ClickPaydocID, "click_paydoc_id"),
		MerchantTransID:   pick(body.MerchantTransID, "merchant_trans_id"),
		MerchantPrepareID: pick(body.MerchantPrepareID, "merchant_prepare_id"),
		Amount:            pick(body.Amount, "amount"),
		Action:            pick(body.Action, "action"),
		Error:             pick(body.Error, "error"),
		ErrorNote:         pick(body.ErrorNote, "error_note"),
		SignTime:          pick(body.SignTime, "sign_time"),
		SignString:        pick(body.SignString, "sign_string"),
	}
}
