package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailtrigger/models"
	"mailtrigger/utils"
	"mailtrigger/worker"
)

type SequenceController struct {
	DB     *gorm.DB
	Store  worker.Store
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, store worker.Store, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Store:  store,
		Logger: logger,
	}
}

type stepRequest struct {
	TemplateID   uint               `json:"template_id" validate:"required"`
	StepOrder    int                `json:"step_order" validate:"required,min=1"`
	DelayType    string             `json:"delay_type" validate:"omitempty,oneof=immediate fixed_delay business_hours specific_time"`
	DelayMinutes int                `json:"delay_minutes" validate:"min=0"`
	DelayConfig  utils.DelayConfig  `json:"delay_config"`
	Conditions   utils.ConditionSet `json:"conditions"`
	Active       *bool              `json:"active"`
}

type createSequenceRequest struct {
	Name              string             `json:"name" validate:"required,max=255"`
	Description       string             `json:"description"`
	WebhookLinkID     uint               `json:"webhook_link_id" validate:"required"`
	TriggerEvent      string             `json:"trigger_event" validate:"required"`
	TriggerConditions utils.ConditionSet `json:"trigger_conditions"`
	Settings          map[string]string  `json:"settings"`
	Steps             []stepRequest      `json:"steps" validate:"required,min=1,dive"`
}

type updateSequenceRequest struct {
	Name              *string            `json:"name"`
	Description       *string            `json:"description"`
	TriggerEvent      *string            `json:"trigger_event"`
	TriggerConditions utils.ConditionSet `json:"trigger_conditions"`
	Settings          map[string]string  `json:"settings"`
	Active            *bool              `json:"active"`
	Steps             []stepRequest      `json:"steps"`
}

func (sc *SequenceController) buildSteps(sequenceID uint, steps []stepRequest) []models.SequenceStep {
	out := make([]models.SequenceStep, 0, len(steps))
	for _, step := range steps {
		delayType := step.DelayType
		if delayType == "" {
			delayType = utils.DelayFixed
		}
		active := true
		if step.Active != nil {
			active = *step.Active
		}
		out = append(out, models.SequenceStep{
			SequenceID:   sequenceID,
			TemplateID:   step.TemplateID,
			StepOrder:    step.StepOrder,
			DelayType:    delayType,
			DelayMinutes: step.DelayMinutes,
			DelayConfig:  step.DelayConfig,
			Conditions:   step.Conditions,
			Active:       active,
		})
	}
	return out
}

// CreateSequence creates a sequence together with its ordered steps
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var req createSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var link models.WebhookLink
	if err := sc.DB.First(&link, req.WebhookLinkID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Webhook link not found", nil)
	}

	sequence := models.Sequence{
		CompanyID:         link.CompanyID,
		UserID:            link.UserID,
		WebhookLinkID:     link.ID,
		Name:              req.Name,
		Description:       req.Description,
		TriggerEvent:      req.TriggerEvent,
		TriggerConditions: req.TriggerConditions,
		Settings:          req.Settings,
		Active:            true,
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.Sequence
		if err := tx.Where("company_id = ? AND name = ?", link.CompanyID, req.Name).First(&existing).Error; err == nil {
			return fiber.NewError(fiber.StatusConflict, "A sequence with this name already exists")
		}
		if err := tx.Create(&sequence).Error; err != nil {
			return err
		}
		return tx.Create(sc.buildSteps(sequence.ID, req.Steps)).Error
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.ErrorResponse(c, fe.Code, fe.Message, nil)
		}
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", nil)
	}

	sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).First(&sequence, sequence.ID)

	return c.Status(fiber.StatusCreated).JSON(sequence)
}

// GetSequences lists sequences with optional search and filters
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	query := sc.DB.Model(&models.Sequence{})

	if search := c.Query("search"); search != "" {
		query = query.Where("name ILIKE ? OR description ILIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if linkID := c.Query("webhook_link_id"); linkID != "" {
		query = query.Where("webhook_link_id = ?", utils.ParseUint(linkID))
	}
	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := 20
	offset := limit * (page - 1)

	var total int64
	query.Count(&total)

	var sequences []models.Sequence
	if err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Steps.Template").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", nil)
	}

	return c.JSON(fiber.Map{
		"sequences": sequences,
		"count":     total,
		"has_more":  total > int64(offset+len(sequences)),
	})
}

// GetSequence returns one sequence with its steps and templates
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Steps.Template").
		First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	return c.JSON(sequence)
}

// UpdateSequence edits a sequence; steps, when provided, are replaced
// wholesale in the same transaction. Deactivating cancels every
// outstanding job synchronously.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	var req updateSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	deactivating := req.Active != nil && !*req.Active && sequence.Active

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if req.Name != nil {
			updates["name"] = *req.Name
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.TriggerEvent != nil {
			updates["trigger_event"] = *req.TriggerEvent
		}
		if req.TriggerConditions != nil {
			updates["trigger_conditions"] = req.TriggerConditions
		}
		if req.Active != nil {
			updates["active"] = *req.Active
		}
		if len(updates) > 0 {
			if err := tx.Model(&sequence).Updates(updates).Error; err != nil {
				return err
			}
		}

		if req.Steps != nil {
			// Replace-all: old steps destroyed, new steps created, in the
			// same transaction as the parent edit.
			if err := tx.Unscoped().Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
				return err
			}
			if len(req.Steps) > 0 {
				if err := tx.Create(sc.buildSteps(sequence.ID, req.Steps)).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		sc.Logger.Printf("Failed to update sequence %d: %v", sequence.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", nil)
	}

	if deactivating {
		cancelled, err := sc.Store.CancelSequenceJobs(sequence.ID)
		if err != nil {
			sc.Logger.Printf("Failed to cancel jobs for sequence %d: %v", sequence.ID, err)
		} else if cancelled > 0 {
			sc.Logger.Printf("Cancelled %d outstanding jobs for sequence %d", cancelled, sequence.ID)
		}
	}

	var updated models.Sequence
	sc.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Steps.Template").
		First(&updated, sequence.ID)

	return c.JSON(updated)
}

// DeleteSequence removes a sequence. While non-terminal jobs exist the
// delete soft-falls-back to deactivation plus cancellation of those jobs.
func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var outstanding int64
	sc.DB.Model(&models.EmailJob{}).
		Where("sequence_id = ? AND status IN ?", sequence.ID, []string{models.JobPending, models.JobProcessing}).
		Count(&outstanding)

	if outstanding > 0 {
		if err := sc.DB.Model(&sequence).Update("active", false).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate sequence", nil)
		}
		cancelled, err := sc.Store.CancelSequenceJobs(sequence.ID)
		if err != nil {
			sc.Logger.Printf("Failed to cancel jobs for sequence %d: %v", sequence.ID, err)
		}
		sc.Logger.Printf("Sequence %d had %d outstanding jobs, deactivated instead of deleted (%d cancelled)",
			sequence.ID, outstanding, cancelled)
		return c.JSON(fiber.Map{
			"message":        "Sequence has outstanding jobs and was deactivated instead",
			"deactivated":    true,
			"jobs_cancelled": cancelled,
		})
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		return tx.Delete(&sequence).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", nil)
	}

	return c.JSON(fiber.Map{"message": "Sequence deleted"})
}

// GetSequenceStats returns the derived rollup: job counts by status,
// per-step counters and the sequence aggregate totals
func (sc *SequenceController) GetSequenceStats(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	jobCounts, err := sc.Store.JobCountsByStatus(sequence.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to aggregate job counts", nil)
	}

	stepStats, err := sc.Store.StepStats(sequence.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to aggregate step stats", nil)
	}

	return c.JSON(fiber.Map{
		"sequence": fiber.Map{
			"total_executions":      sequence.TotalExecutions,
			"successful_executions": sequence.SuccessfulExecutions,
			"last_execution_at":     sequence.LastExecutionAt,
		},
		"jobs":  jobCounts,
		"steps": stepStats,
	})
}

// CancelJob cancels a single job; sent jobs cannot be cancelled
func (sc *SequenceController) CancelJob(c *fiber.Ctx) error {
	var job models.EmailJob
	if err := sc.DB.First(&job, c.Params("jobId")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Job not found", nil)
	}

	if job.Status == models.JobSent {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Cannot cancel an already sent email", nil)
	}

	cancelled, err := sc.Store.CancelJob(job.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel job", nil)
	}
	if !cancelled {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Job is already in a terminal state", nil)
	}

	return c.JSON(fiber.Map{"message": "Job cancelled"})
}

// GetQueueStats returns the global job counts by status
func (sc *SequenceController) GetQueueStats(c *fiber.Ctx) error {
	counts, err := sc.Store.QueueCounts()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to aggregate queue stats", nil)
	}
	return c.JSON(counts)
}
