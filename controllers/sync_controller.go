package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"chatmirror/config"
	"chatmirror/models"
	"chatmirror/utils"
)

// TriggerSync runs one sync pass over a single conversation, synchronously.
// The conversation parameter is the remote space reference or a
// mail/<id>/<mailbox> reference.
func TriggerSync(c *fiber.Ctx) error {
	convRef := c.Params("+")
	if convRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation reference is required",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Minute)
	defer cancel()

	summary, err := Engine.SyncConversation(ctx, convRef)
	if err != nil {
		utils.LogError("sync_pass", err, map[string]interface{}{
			"conversation": convRef,
		})
		if summary != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   err.Error(),
				"summary": summary,
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sync completed",
		"summary": summary,
	})
}

// ListSyncRuns returns recent sync runs, newest first.
func ListSyncRuns(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	var runs []models.SyncRun
	var total int64

	query := config.DB.Model(&models.SyncRun{})
	if conv := c.Query("conversation"); conv != "" {
		query = query.Joins("JOIN conversations ON conversations.id = sync_runs.conversation_id").
			Where("conversations.space_id = ?", conv)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	query.Count(&total)
	if err := query.Order("started_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&runs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sync runs",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  runs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

type RetryRequest struct {
	Conversation string `json:"conversation" validate:"omitempty,max=200"`
	AttachmentID uint   `json:"attachment_id" validate:"omitempty"`
}

// RetryDownloads requeues failed attachments. Scope narrows by conversation
// or a single attachment id; an empty body retries everything failed.
func RetryDownloads(c *fiber.Ctx) error {
	var req RetryRequest
	if len(c.Body()) > 0 {
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
	}

	count, err := Engine.RetryFailedDownloads(req.Conversation, req.AttachmentID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	utils.LogEvent("downloads_requeued", map[string]interface{}{
		"count":        count,
		"conversation": req.Conversation,
	})

	return c.JSON(fiber.Map{
		"message":  "Failed downloads requeued",
		"requeued": count,
	})
}

// MigratePaths rewrites legacy served-URL attachment paths to bare stored
// filenames. Safe to run repeatedly.
func MigratePaths(c *fiber.Ctx) error {
	count, err := Engine.MigrateLegacyPaths()
	if err != nil {
		utils.LogError("path_migration", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Migration failed",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Legacy paths migrated",
		"migrated": count,
	})
}
