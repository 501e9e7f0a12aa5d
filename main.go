package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"mailtrigger/config"
	"mailtrigger/middleware"
	"mailtrigger/routes"
	"mailtrigger/utils"
	"mailtrigger/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "MAILTRIGGER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Initialize mailer and job store
	mailer := utils.NewMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
		config.AppConfig.SendTimeout,
	)
	store := worker.NewGormStore(config.DB)
	clock := worker.SystemClock()

	// Initialize and start the delivery queue, processor and scheduler
	queue := worker.NewDeliveryQueue(store, mailer, clock, worker.QueueConfig{
		Concurrency: config.AppConfig.WorkerConcurrency,
	})
	processor := worker.NewSequenceProcessor(store, queue, clock)
	scheduler := worker.NewScheduler(store, queue, clock, worker.SchedulerConfig{
		PollInterval:    config.AppConfig.PollInterval,
		PollBatch:       config.AppConfig.PollBatch,
		CleanupInterval: config.AppConfig.CleanupInterval,
		Retention:       time.Duration(config.AppConfig.RetentionDays) * 24 * time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start(ctx)
	defer queue.Stop()

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Setup routes
	routes.SetupRoutes(app, config.DB, store, processor)

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
