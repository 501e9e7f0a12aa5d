package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "mailtrigger/controllers"
	"mailtrigger/middleware"
	"mailtrigger/worker"
)

// SetupWebhookRoutes registers the public trigger endpoint
func SetupWebhookRoutes(app *fiber.App, db *gorm.DB, processor *worker.SequenceProcessor) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)
	webhookController := controller.NewWebhookController(db, processor, webhookLogger)

	// Public webhook receiver, rate limited per IP + hash
	hooks := app.Group("/hooks", middleware.WebhookRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	hooks.Post("/:hash", webhookController.ReceiveWebhook)

	webhookLogger.Println("Webhook routes initialized successfully")
}

// SetupAPIRoutes registers the management API
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, store worker.Store, processor *worker.SequenceProcessor) {
	sequenceController := controller.NewSequenceController(db, store, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	templateController := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, processor, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Get("/:id/stats", sequenceController.GetSequenceStats)

	// Job routes
	api.Post("/jobs/:jobId/cancel", sequenceController.CancelJob)
	api.Get("/queue/stats", sequenceController.GetQueueStats)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.GetTemplates)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)

	// Webhook link routes
	link := api.Group("/webhook-links")
	link.Post("/", webhookController.CreateWebhookLink)
	link.Get("/", webhookController.GetWebhookLinks)
	link.Get("/:id", webhookController.GetWebhookLink)
	link.Put("/:id", webhookController.UpdateWebhookLink)
	link.Delete("/:id", webhookController.DeleteWebhookLink)
	link.Get("/:id/logs", webhookController.GetWebhookLogs)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, store worker.Store, processor *worker.SequenceProcessor) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupWebhookRoutes(app, db, processor)
	SetupAPIRoutes(app, db, store, processor)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
