package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"chatmirror/config"
	"chatmirror/models"
	"chatmirror/utils"
)

type CreateMailSourceRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	IMAPHost       string `json:"imap_host" validate:"required,hostname"`
	IMAPPort       int    `json:"imap_port" validate:"omitempty,min=1,max=65535"`
	IMAPUsername   string `json:"imap_username" validate:"required"`
	IMAPPassword   string `json:"imap_password" validate:"required"`
	IMAPEncryption string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS None"`
	IMAPMailbox    string `json:"imap_mailbox" validate:"omitempty,max=200"`
}

// CreateMailSource registers a mailbox to mirror. The password is encrypted
// before it touches the database.
func CreateMailSource(c *fiber.Ctx) error {
	var req CreateMailSourceRequest
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

	encrypted, err := utils.Encrypt(req.IMAPPassword)
	if err != nil {
		utils.LogError("password_encryption", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	source := models.MailSource{
		Name:         req.Name,
		IMAPHost:     req.IMAPHost,
		IMAPUsername: req.IMAPUsername,
		IMAPPassword: encrypted,
		IsActive:     true,
	}
	if req.IMAPPort != 0 {
		source.IMAPPort = req.IMAPPort
	} else {
		source.IMAPPort = 993
	}
	if req.IMAPEncryption != "" {
		source.IMAPEncryption = req.IMAPEncryption
	} else {
		source.IMAPEncryption = "SSL"
	}
	if req.IMAPMailbox != "" {
		source.IMAPMailbox = req.IMAPMailbox
	} else {
		source.IMAPMailbox = "INBOX"
	}

	if err := config.DB.Create(&source).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create mail source",
		})
	}

	utils.LogEvent("mail_source_created", map[string]interface{}{
		"source_id": source.ID,
		"host":      source.IMAPHost,
	})

	return c.Status(fiber.StatusCreated).JSON(source)
}

// ListMailSources returns all registered mail sources. Passwords never
// serialize.
func ListMailSources(c *fiber.Ctx) error {
	var sources []models.MailSource
	if err := config.DB.Order("id ASC").Find(&sources).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch mail sources",
		})
	}
	return c.JSON(sources)
}

type UpdateMailSourceRequest struct {
	Name           string `json:"name" validate:"omitempty,max=100"`
	IMAPHost       string `json:"imap_host" validate:"omitempty,hostname"`
	IMAPPort       int    `json:"imap_port" validate:"omitempty,min=1,max=65535"`
	IMAPUsername   string `json:"imap_username" validate:"omitempty"`
	IMAPPassword   string `json:"imap_password" validate:"omitempty"`
	IMAPEncryption string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS None"`
	IMAPMailbox    string `json:"imap_mailbox" validate:"omitempty,max=200"`
	IsActive       *bool  `json:"is_active" validate:"omitempty"`
}

// UpdateMailSource applies a partial update to a mail source.
func UpdateMailSource(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var source models.MailSource
	if err := config.DB.First(&source, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Mail source not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch mail source",
		})
	}

	var req UpdateMailSourceRequest
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

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.IMAPHost != "" {
		updates["imap_host"] = req.IMAPHost
	}
	if req.IMAPPort != 0 {
		updates["imap_port"] = req.IMAPPort
	}
	if req.IMAPUsername != "" {
		updates["imap_username"] = req.IMAPUsername
	}
	if req.IMAPPassword != "" {
		encrypted, err := utils.Encrypt(req.IMAPPassword)
		if err != nil {
			utils.LogError("password_encryption", err, nil)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
		updates["imap_password"] = encrypted
	}
	if req.IMAPEncryption != "" {
		updates["imap_encryption"] = req.IMAPEncryption
	}
	if req.IMAPMailbox != "" {
		updates["imap_mailbox"] = req.IMAPMailbox
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
		if *req.IsActive {
			updates["last_error"] = ""
		}
	}

	if len(updates) > 0 {
		if err := config.DB.Model(&source).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update mail source",
			})
		}
	}

	return c.JSON(source)
}

// DeleteMailSource removes a mail source. Mirrored conversations stay.
func DeleteMailSource(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	result := config.DB.Delete(&models.MailSource{}, id)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete mail source",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mail source not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Mail source deleted",
	})
}
