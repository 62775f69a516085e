package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"chatmirror/chat"
	"chatmirror/config"
	controller "chatmirror/controllers"
	"chatmirror/mailsource"
	"chatmirror/middleware"
	"chatmirror/models"
	"chatmirror/routes"
	"chatmirror/storage"
	syncengine "chatmirror/sync"
	"chatmirror/utils"
	"chatmirror/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SYNC: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize local blob storage and thumbnailer
	blobs, err := storage.NewLocal(config.AppConfig.Sync.MediaDir)
	if err != nil {
		logger.Fatalf("Failed to initialize media storage: %v", err)
	}
	thumbs := storage.NewThumbGenerator(blobs)

	// Assemble the sync engine
	engine := syncengine.NewService(config.DB, blobs, thumbs, syncengine.ServiceConfig{
		DownloadWorkers:     config.AppConfig.Sync.DownloadWorkers,
		MaxDownloadAttempts: config.AppConfig.Sync.MaxDownloadAttempts,
		ConfidenceThreshold: config.AppConfig.Sync.ConfidenceThreshold,
		ConversationWorkers: config.AppConfig.Sync.ConversationWorkers,
	}, logger)
	engine.ChatSourceFn = newChatSource
	engine.MailSourceFn = newMailSource

	controller.SetEngine(engine)

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Start background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncWorker := worker.NewSyncWorker(engine, config.AppConfig.Sync.Interval, logger)
	go syncWorker.Start(ctx)

	retryWorker := worker.NewRetryWorker(engine.Store(), config.AppConfig.Sync.Interval/2,
		config.AppConfig.Sync.MaxDownloadAttempts, log.New(os.Stdout, "RETRY: ", log.LstdFlags))
	go retryWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// newChatSource builds a chat API client from the configured OAuth
// credential. A fresh token source per pass keeps refresh handling inside
// the oauth2 package.
func newChatSource() (chat.Source, error) {
	oc := config.AppConfig.Google
	conf := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/chat.messages.readonly",
			"https://www.googleapis.com/auth/drive.readonly",
			"https://www.googleapis.com/auth/admin.directory.user.readonly",
		},
	}
	ts := conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: oc.RefreshToken})
	return chat.NewGoogleClient(ts,
		chat.WithCallTimeout(config.AppConfig.Sync.CallTimeout)), nil
}

// newMailSource adapts a stored mailbox definition, decrypting its password.
func newMailSource(src models.MailSource) (chat.Source, error) {
	password, err := utils.Decrypt(src.IMAPPassword)
	if err != nil {
		return nil, err
	}
	return mailsource.New(src, password), nil
}
