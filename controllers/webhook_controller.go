package controller

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailtrigger/models"
	"mailtrigger/utils"
	"mailtrigger/worker"
)

type WebhookController struct {
	DB        *gorm.DB
	Processor *worker.SequenceProcessor
	Logger    *log.Logger
}

func NewWebhookController(db *gorm.DB, processor *worker.SequenceProcessor, logger *log.Logger) *WebhookController {
	return &WebhookController{
		DB:        db,
		Processor: processor,
		Logger:    logger,
	}
}

type createWebhookLinkRequest struct {
	CompanyID uint   `json:"company_id" validate:"required"`
	UserID    uint   `json:"user_id"`
	Name      string `json:"name" validate:"required,max=255"`
	Platform  string `json:"platform" validate:"required,max=100"`
}

type updateWebhookLinkRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

type webhookPayload struct {
	TriggerEvent   string            `json:"trigger_event"`
	SourcePlatform string            `json:"source_platform"`
	Variables      map[string]string `json:"variables"`
}

func (wc *WebhookController) CreateWebhookLink(c *fiber.Ctx) error {
	var req createWebhookLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	link := models.WebhookLink{
		CompanyID:   req.CompanyID,
		UserID:      req.UserID,
		Name:        req.Name,
		Platform:    strings.ToLower(req.Platform),
		WebhookHash: strings.ReplaceAll(uuid.New().String(), "-", ""),
		Active:      true,
	}

	if err := wc.DB.Create(&link).Error; err != nil {
		wc.Logger.Printf("Failed to create webhook link: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create webhook link", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(link)
}

func (wc *WebhookController) GetWebhookLinks(c *fiber.Ctx) error {
	query := wc.DB.Model(&models.WebhookLink{})

	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", strings.ToLower(platform))
	}
	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}

	var links []models.WebhookLink
	if err := query.Order("created_at DESC").Find(&links).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch webhook links", nil)
	}

	return c.JSON(fiber.Map{
		"webhook_links": links,
		"count":         len(links),
	})
}

func (wc *WebhookController) GetWebhookLink(c *fiber.Ctx) error {
	var link models.WebhookLink
	if err := wc.DB.Preload("Sequences").First(&link, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook link not found", nil)
	}
	return c.JSON(link)
}

func (wc *WebhookController) UpdateWebhookLink(c *fiber.Ctx) error {
	var req updateWebhookLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var link models.WebhookLink
	if err := wc.DB.First(&link, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook link not found", nil)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := wc.DB.Model(&link).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update webhook link", nil)
		}
	}

	return c.JSON(link)
}

// DeleteWebhookLink removes a link. While sequences are still bound to it
// the delete falls back to deactivation so their trigger history survives.
func (wc *WebhookController) DeleteWebhookLink(c *fiber.Ctx) error {
	var link models.WebhookLink
	if err := wc.DB.First(&link, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook link not found", nil)
	}

	var bound int64
	wc.DB.Model(&models.Sequence{}).Where("webhook_link_id = ?", link.ID).Count(&bound)

	if bound > 0 {
		if err := wc.DB.Model(&link).Update("active", false).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate webhook link", nil)
		}
		wc.Logger.Printf("Webhook link %d has %d bound sequences, deactivated instead of deleted", link.ID, bound)
		return c.JSON(fiber.Map{
			"message":     "Webhook link has bound sequences and was deactivated instead",
			"deactivated": true,
		})
	}

	if err := wc.DB.Delete(&link).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete webhook link", nil)
	}

	return c.JSON(fiber.Map{"message": "Webhook link deleted"})
}

func (wc *WebhookController) GetWebhookLogs(c *fiber.Ctx) error {
	var link models.WebhookLink
	if err := wc.DB.First(&link, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook link not found", nil)
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var logs []models.WebhookLog
	if err := wc.DB.
		Where("webhook_link_id = ?", link.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch webhook logs", nil)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}

// ReceiveWebhook is the public trigger endpoint. It resolves the link by
// hash, fires every active bound sequence whose trigger matches, and
// records an audit row either way. The response is always fast: jobs are
// materialized here but delivered asynchronously.
func (wc *WebhookController) ReceiveWebhook(c *fiber.Ctx) error {
	started := time.Now()
	hash := c.Params("hash")

	var link models.WebhookLink
	if err := wc.DB.Where("webhook_hash = ? AND active = ?", hash, true).First(&link).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook not found", nil)
	}

	var payload webhookPayload
	if err := c.BodyParser(&payload); err != nil {
		wc.recordRequest(&link, models.WebhookLog{
			Status:       "failed",
			ErrorMessage: "invalid payload: " + err.Error(),
			HTTPStatus:   fiber.StatusBadRequest,
		}, started, c, false)
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid payload", err)
	}

	if payload.TriggerEvent == "" {
		wc.recordRequest(&link, models.WebhookLog{
			Status:       "failed",
			ErrorMessage: "missing trigger_event",
			HTTPStatus:   fiber.StatusBadRequest,
		}, started, c, false)
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "trigger_event is required", nil)
	}

	if payload.SourcePlatform == "" {
		payload.SourcePlatform = link.Platform
	}
	if payload.Variables == nil {
		payload.Variables = map[string]string{}
	}

	event := worker.Event{
		TriggerEvent:   payload.TriggerEvent,
		SourcePlatform: payload.SourcePlatform,
		Variables:      payload.Variables,
	}

	var sequences []models.Sequence
	if err := wc.DB.Where("webhook_link_id = ? AND active = ?", link.ID, true).Find(&sequences).Error; err != nil {
		wc.Logger.Printf("Failed to load sequences for link %d: %v", link.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process webhook", nil)
	}

	fired := 0
	for i := range sequences {
		sequence := &sequences[i]
		if !wc.Processor.ShouldFire(sequence, event) {
			continue
		}
		if err := wc.Processor.Process(sequence, event); err != nil {
			wc.Logger.Printf("Failed to process sequence %d: %v", sequence.ID, err)
			continue
		}
		fired++
	}

	status := "accepted"
	if fired == 0 {
		status = "skipped"
	}
	wc.recordRequest(&link, models.WebhookLog{
		EventType:      payload.TriggerEvent,
		Variables:      payload.Variables,
		RecipientEmail: payload.Variables[utils.VarCustomerEmail],
		RecipientName:  payload.Variables[utils.VarCustomerName],
		Status:         status,
		HTTPStatus:     fiber.StatusOK,
	}, started, c, fired > 0)

	return c.JSON(fiber.Map{
		"success":         true,
		"sequences_fired": fired,
	})
}

// recordRequest writes the audit row and bumps the link counters
func (wc *WebhookController) recordRequest(link *models.WebhookLink, entry models.WebhookLog, started time.Time, c *fiber.Ctx, success bool) {
	entry.WebhookLinkID = link.ID
	entry.CompanyID = link.CompanyID
	entry.Platform = link.Platform
	entry.ResponseTimeMs = time.Since(started).Milliseconds()
	entry.IPAddress = c.IP()
	entry.UserAgent = c.Get("User-Agent")

	if err := wc.DB.Create(&entry).Error; err != nil {
		wc.Logger.Printf("Failed to write webhook log for link %d: %v", link.ID, err)
	}

	updates := map[string]interface{}{
		"total_requests":  gorm.Expr("total_requests + ?", 1),
		"last_request_at": time.Now(),
	}
	if success {
		updates["successful_requests"] = gorm.Expr("successful_requests + ?", 1)
	}
	if err := wc.DB.Model(link).Updates(updates).Error; err != nil {
		wc.Logger.Printf("Failed to update webhook link counters for link %d: %v", link.ID, err)
	}
}
