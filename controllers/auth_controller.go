package controller

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"chatmirror/config"
	"chatmirror/utils"
)

type TokenRequest struct {
	Operator    string `json:"operator" validate:"required,max=100"`
	OperatorKey string `json:"operator_key" validate:"required"`
}

// IssueToken exchanges the shared operator key for a short-lived bearer
// token. The key itself is never stored, only its bcrypt hash.
func IssueToken(c *fiber.Ctx) error {
	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := bcrypt.CompareHashAndPassword(
		[]byte(config.AppConfig.OperatorKeyHash), []byte(req.OperatorKey)); err != nil {
		utils.LogEvent("auth_failed", map[string]interface{}{
			"operator": req.Operator,
			"ip":       c.IP(),
		})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid operator key",
		})
	}

	token, err := utils.GenerateOperatorToken(req.Operator)
	if err != nil {
		utils.LogError("token_signing", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   12 * 3600,
	})
}
