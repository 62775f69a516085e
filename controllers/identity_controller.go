package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"chatmirror/config"
	"chatmirror/models"
	"chatmirror/utils"
)

// ListIdentities returns resolved sender identities, filterable by method
// and a minimum confidence.
func ListIdentities(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := config.DB.Model(&models.SenderIdentity{})
	if method := c.Query("method"); method != "" {
		query = query.Where("method = ?", method)
	}
	if min := c.QueryInt("min_confidence", 0); min > 0 {
		query = query.Where("confidence >= ?", min)
	}

	var total int64
	query.Count(&total)

	var identities []models.SenderIdentity
	if err := query.Order("confidence DESC, sender_id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&identities).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch identities",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  identities,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

type MapIdentityRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	EmployeeID  *uint  `json:"employee_id" validate:"omitempty"`
}

// MapIdentity records a manual operator mapping for a sender identifier at
// full confidence.
func MapIdentity(c *fiber.Ctx) error {
	senderID := c.Params("+")
	if senderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sender identifier is required",
		})
	}

	var req MapIdentityRequest
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

	if req.Email != "" {
		if err := utils.CheckEmailFormat(req.Email); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid email format",
			})
		}
		if !utils.DomainRegistered(req.Email) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Email domain is not registered",
			})
		}
	}

	if req.EmployeeID != nil {
		var emp models.Employee
		if err := config.DB.First(&emp, *req.EmployeeID).Error; err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown employee",
			})
		}
	}

	identity, err := Engine.MapIdentity(senderID, req.DisplayName, req.Email, req.EmployeeID)
	if err != nil {
		utils.LogError("identity_mapping", err, map[string]interface{}{
			"sender": senderID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to map identity",
		})
	}

	utils.LogEvent("identity_mapped", map[string]interface{}{
		"sender":   senderID,
		"operator": c.Locals("operator"),
	})

	return c.JSON(identity)
}

// RevertIdentity resets a mapping back to the neutral fallback and reports
// how many participant rows were rewritten.
func RevertIdentity(c *fiber.Ctx) error {
	senderID := c.Params("+")
	if senderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sender identifier is required",
		})
	}

	affected, err := Engine.RevertIdentity(senderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No identity recorded for sender",
			})
		}
		utils.LogError("identity_revert", err, map[string]interface{}{
			"sender": senderID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revert identity",
		})
	}

	utils.LogEvent("identity_reverted", map[string]interface{}{
		"sender":               senderID,
		"participants_updated": affected,
		"operator":             c.Locals("operator"),
	})

	return c.JSON(fiber.Map{
		"message":              "Identity reverted",
		"participants_updated": affected,
	})
}
