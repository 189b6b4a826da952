package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/rayhan/internal/services"
)

type paymeRequestID struct {
	ID any `json:"id"`
}

// PaymeAuthMiddleware validates the Basic Authorization header against the
// merchant key. It runs before the JSON-RPC body is parsed, so an
// unauthenticated caller never learns whether their payload was well-formed.
func PaymeAuthMiddleware(merchantKey string) fiber.Handler {
	expected := []byte("Paycom:" + merchantKey)

	return func(c *fiber.Ctx) error {
		var reqID paymeRequestID
		_ = json.Unmarshal(c.Body(), &reqID)

		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
			return writePaymeAuthError(c, reqID.ID)
		}

		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return writePaymeAuthError(c, reqID.ID)
		}

		if len(decoded) != len(expected) || subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return writePaymeAuthError(c, reqID.ID)
		}

		return c.Next()
	}
}

func writePaymeAuthError(c *fiber.Ctx, id any) error {
	info := services.PaymeErrorInvalidAuthorization
	return c.JSON(fiber.Map{
		"error": fiber.Map{
			"code": info.Code,
			"message": fiber.Map{
				"uz": info.Message["uz"],
				"ru": info.Message["ru"],
				"en": info.Message["en"],
			},
			"data": nil,
		},
		"id": id,
	})
}
