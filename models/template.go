package models

import "gorm.io/gorm"

// Template represents an email template rendered with event variables
type Template struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`
	UserID    uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	Category string `json:"category"`
	Active   bool   `gorm:"default:true" json:"active"`
}
