package models

import (
	"time"

	"gorm.io/gorm"
)

// WebhookLink represents an inbound webhook endpoint bound to a commerce
// platform; sequences reference the link that feeds them
type WebhookLink struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`
	UserID    uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Platform    string `gorm:"not null" json:"platform"` // kiwify, hotmart, stripe, ...
	WebhookHash string `gorm:"not null;uniqueIndex" json:"webhook_hash"`

	Active bool `gorm:"default:true" json:"active"`

	// Statistics (denormalized for performance)
	TotalRequests      int        `gorm:"default:0" json:"total_requests"`
	SuccessfulRequests int        `gorm:"default:0" json:"successful_requests"`
	LastRequestAt      *time.Time `json:"last_request_at"`

	// Relations
	Sequences []Sequence `gorm:"foreignKey:WebhookLinkID" json:"sequences,omitempty"`
}

// WebhookLog records one inbound webhook delivery for audit
type WebhookLog struct {
	gorm.Model
	WebhookLinkID uint `gorm:"not null;index" json:"webhook_link_id"`
	CompanyID     uint `gorm:"not null;index" json:"company_id"`

	Platform  string `json:"platform"`
	EventType string `json:"event_type"`

	Variables map[string]string `gorm:"type:jsonb;serializer:json" json:"variables"`

	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	Status         string `gorm:"default:'accepted'" json:"status"` // accepted, skipped, failed
	ErrorMessage   string `gorm:"type:text" json:"error_message"`
	HTTPStatus     int    `json:"http_status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	IPAddress      string `json:"ip_address"`
	UserAgent      string `json:"user_agent"`
}
