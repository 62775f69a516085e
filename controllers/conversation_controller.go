package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"chatmirror/config"
	"chatmirror/models"
	"chatmirror/utils"
)

// ListConversations returns tracked conversations with participant counts.
func ListConversations(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	var conversations []models.Conversation
	var total int64

	query := config.DB.Model(&models.Conversation{})
	if kind := c.Query("source_kind"); kind != "" {
		query = query.Where("source_kind = ?", kind)
	}

	query.Count(&total)
	if err := query.Preload("Participants").
		Order("last_synced_at DESC NULLS LAST").
		Offset((page - 1) * limit).Limit(limit).
		Find(&conversations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversations",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  conversations,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetConversation returns one conversation with its participants.
func GetConversation(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var conv models.Conversation
	if err := config.DB.Preload("Participants").First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Conversation not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch conversation",
		})
	}

	return c.JSON(conv)
}

// ListMessages returns a conversation's messages in send order, attachments
// preloaded.
func ListMessages(c *fiber.Ctx) error {
	convID := utils.ParseUint(c.Params("id"))
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	var messages []models.Message
	var total int64

	query := config.DB.Model(&models.Message{}).Where("conversation_id = ?", convID)
	query.Count(&total)

	if err := query.Preload("Attachments").
		Order("sent_at ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&messages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch messages",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  messages,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// ListAttachments returns attachments across a conversation, filterable by
// lifecycle state.
func ListAttachments(c *fiber.Ctx) error {
	convID := utils.ParseUint(c.Params("id"))
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := config.DB.Model(&models.Attachment{}).
		Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("messages.conversation_id = ?", convID)

	if state := c.Query("state"); state != "" {
		query = query.Where("attachments.state = ?", state)
	}
	if reason := c.Query("fail_reason"); reason != "" {
		query = query.Where("attachments.fail_reason = ?", reason)
	}

	var total int64
	query.Count(&total)

	var attachments []models.Attachment
	if err := query.Order("attachments.id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&attachments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch attachments",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  attachments,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetAttachmentHistory returns the recorded state transitions for one
// attachment, oldest first.
func GetAttachmentHistory(c *fiber.Ctx) error {
	attID := utils.ParseUint(c.Params("id"))

	var att models.Attachment
	if err := config.DB.First(&att, attID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Attachment not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch attachment",
		})
	}

	var transitions []models.AttachmentTransition
	if err := config.DB.Where("attachment_id = ?", attID).
		Order("id ASC").Find(&transitions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch transitions",
		})
	}

	return c.JSON(fiber.Map{
		"attachment":  att,
		"transitions": transitions,
	})
}
