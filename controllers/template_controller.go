package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailtrigger/models"
	"mailtrigger/utils"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{
		DB:     db,
		Logger: logger,
	}
}

type createTemplateRequest struct {
	CompanyID   uint   `json:"company_id" validate:"required"`
	UserID      uint   `json:"user_id"`
	Name        string `json:"name" validate:"required,max=255"`
	Subject     string `json:"subject" validate:"required"`
	HTMLContent string `json:"html_content" validate:"required"`
	TextContent string `json:"text_content"`
	Category    string `json:"category"`
}

type updateTemplateRequest struct {
	Name        *string `json:"name"`
	Subject     *string `json:"subject"`
	HTMLContent *string `json:"html_content"`
	TextContent *string `json:"text_content"`
	Category    *string `json:"category"`
	Active      *bool   `json:"active"`
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	var req createTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template := models.Template{
		CompanyID:   req.CompanyID,
		UserID:      req.UserID,
		Name:        req.Name,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		Category:    req.Category,
		Active:      true,
	}

	if err := tc.DB.Create(&template).Error; err != nil {
		tc.Logger.Printf("Failed to create template: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	query := tc.DB.Model(&models.Template{})

	if search := c.Query("search"); search != "" {
		query = query.Where("name ILIKE ? OR subject ILIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}

	var templates []models.Template
	if err := query.Order("created_at DESC").Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", nil)
	}

	return c.JSON(fiber.Map{
		"templates": templates,
		"count":     len(templates),
	})
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}
	return c.JSON(template)
}

func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	var req updateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Subject != nil {
		updates["subject"] = *req.Subject
	}
	if req.HTMLContent != nil {
		updates["html_content"] = *req.HTMLContent
	}
	if req.TextContent != nil {
		updates["text_content"] = *req.TextContent
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) > 0 {
		if err := tc.DB.Model(&template).Updates(updates).Error; err != nil {
			tc.Logger.Printf("Failed to update template %d: %v", template.ID, err)
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", nil)
		}
	}

	return c.JSON(template)
}

// DeleteTemplate removes a template. While sequence steps still reference
// it the delete falls back to deactivation so running sequences keep
// rendering.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	var template models.Template
	if err := tc.DB.First(&template, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var references int64
	tc.DB.Model(&models.SequenceStep{}).Where("template_id = ?", template.ID).Count(&references)

	if references > 0 {
		if err := tc.DB.Model(&template).Update("active", false).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate template", nil)
		}
		tc.Logger.Printf("Template %d is referenced by %d steps, deactivated instead of deleted", template.ID, references)
		return c.JSON(fiber.Map{
			"message":     "Template is in use by sequence steps and was deactivated instead",
			"deactivated": true,
		})
	}

	if err := tc.DB.Delete(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", nil)
	}

	return c.JSON(fiber.Map{"message": "Template deleted"})
}
