package routes

import (
	"log"
	"os"

	controller "chatmirror/controllers"
	"chatmirror/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Token issuance is the only public endpoint
	auth.Post("/token", controller.IssueToken)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sync routes with rate limiting; a pass is expensive remote-API work
	syncGroup := api.Group("/sync", middleware.SyncRateLimiter())
	// Conversation references contain slashes (spaces/AAA, mail/1/INBOX),
	// so the trigger route takes a multi-segment wildcard
	syncGroup.Post("/+", controller.TriggerSync)

	api.Get("/runs", controller.ListSyncRuns)
	api.Post("/attachments/retry", controller.RetryDownloads)
	api.Post("/attachments/migrate-paths", controller.MigratePaths)
	api.Get("/attachments/:id/history", controller.GetAttachmentHistory)

	// Conversation browsing
	conversation := api.Group("/conversations")
	conversation.Get("/", controller.ListConversations)
	conversation.Get("/:id", controller.GetConversation)
	conversation.Get("/:id/messages", controller.ListMessages)
	conversation.Get("/:id/attachments", controller.ListAttachments)

	// Identity resolution
	identity := api.Group("/identities")
	identity.Get("/", controller.ListIdentities)
	identity.Put("/map/+", controller.MapIdentity)
	identity.Post("/revert/+", controller.RevertIdentity)

	// Mail source management
	source := api.Group("/sources")
	source.Post("/", controller.CreateMailSource)
	source.Get("/", controller.ListMailSources)
	source.Put("/:id", controller.UpdateMailSource)
	source.Delete("/:id", controller.DeleteMailSource)

	// WebSocket route for sync progress
	app.Get("/api/v1/sync/progress", websocket.New(func(c *websocket.Conn) {
		controller.HandleSyncProgressWS(c)
	}))

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app, db)

	// Setup API routes
	SetupAPIRoutes(app, db)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
