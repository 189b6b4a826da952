package handlers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/example/rayhan/internal/services"
)

// paymeMethod is the closed set of JSON-RPC methods this endpoint serves.
type paymeMethod string

const (
	methodCheckPerformTransaction paymeMethod = "CheckPerformTransaction"
	methodCreateTransaction       paymeMethod = "CreateTransaction"
	methodPerformTransaction      paymeMethod = "PerformTransaction"
	methodCancelTransaction       paymeMethod = "CancelTransaction"
	methodCheckTransaction        paymeMethod = "CheckTransaction"
	methodGetStatement            paymeMethod = "GetStatement"
)

// PaymeHandler serves the Payme JSON-RPC endpoint.
type PaymeHandler struct {
	payme *services.PaymeService
}

func NewPaymeHandler(payme *services.PaymeService) *PaymeHandler {
	return &PaymeHandler{payme: payme}
}

type paymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Pay handles Payme JSON-RPC calls. Every outcome, including a malformed
// body, is answered with HTTP 200 and the protocol's error envelope.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	var req paymeRPCRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("[Payme] failed to parse request body: %v", err)
		return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, nil, nil)
	}

	ctx := c.Context()

	switch paymeMethod(req.Method) {
	case methodCheckPerformTransaction:
		var params services.CheckPerformParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.CheckPerformTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case methodCreateTransaction:
		var params services.CreateTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.CreateTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case methodPerformTransaction:
		var params services.PerformTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.PerformTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case methodCancelTransaction:
		var params services.CancelTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.CancelTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case methodCheckTransaction:
		var params services.CheckTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.CheckTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case methodGetStatement:
		var params services.StatementParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writePaymeErrorInfo(c, services.PaymeErrorInvalidJSONRPC, req.ID, nil)
		}
		result, err := h.payme.GetStatement(ctx, params)
		if err != nil {
			return writePaymeError(c, err, req.ID)
		}
		return c.JSON(fiber.Map{"result": fiber.Map{"transactions": result}, "id": req.ID})
	default:
		return writePaymeErrorInfo(c, services.PaymeErrorMethodNotFound, req.ID, req.Method)
	}
}

func writePaymeError(c *fiber.Ctx, err error, id any) error {
	if txErr, ok := err.(*services.TransactionError); ok {
		return writePaymeErrorInfo(c, txErr.Info, txErr.ID, txErr.Data)
	}
	// Infrastructure failure: generic internal code, never an HTTP error.
	log.Printf("[Payme] internal error: %v", err)
	return writePaymeErrorInfo(c, services.PaymeErrorInternal, id, nil)
}

func writePaymeErrorInfo(c *fiber.Ctx, info services.PaymeErrorInfo, id any, data any) error {
	return c.JSON(fiber.Map{
		"error": fiber.Map{
			"code": info.Code,
			"message": fiber.Map{
				"uz": info.Message["uz"],
				"ru": info.Message["ru"],
				"en": info.Message["en"],
			},
			"data": data,
		},
		"id": id,
	})
}
