package models

import (
	"time"

	"gorm.io/gorm"
)

// Job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobSent       = "sent"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Job priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// MaxAttempts is the delivery attempt ceiling before a job goes terminal
const MaxAttempts = 3

// EmailJob represents one scheduled delivery materialized from a sequence
// step. Recipient, template reference and variable snapshot are written once
// and never updated afterwards; only status, attempts, errorMessage and the
// timestamps move.
type EmailJob struct {
	gorm.Model
	CompanyID  uint `gorm:"not null;index" json:"company_id"`
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	StepID     uint `gorm:"not null;index" json:"step_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	RecipientEmail string `gorm:"not null" json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	// Snapshot of the event variables at materialization time
	Variables map[string]string `gorm:"type:jsonb;serializer:json" json:"variables"`

	ScheduledAt time.Time  `gorm:"not null;index" json:"scheduled_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	SentAt      *time.Time `json:"sent_at"`

	Status       string `gorm:"default:'pending';index" json:"status"` // pending, processing, sent, failed, cancelled
	Priority     string `gorm:"default:'normal'" json:"priority"`      // low, normal, high
	Attempts     int    `gorm:"default:0" json:"attempts"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	// Provider metadata recorded once sent
	MessageID    string            `json:"message_id"`
	DeliveryInfo map[string]string `gorm:"type:jsonb;serializer:json" json:"delivery_info,omitempty"`

	// Relations
	Sequence Sequence     `json:"-"`
	Step     SequenceStep `json:"-"`
	Template Template     `json:"-"`
}

// Terminal reports whether the job can never transition again
func (j *EmailJob) Terminal() bool {
	return j.Status == JobSent || j.Status == JobFailed || j.Status == JobCancelled
}

// PriorityRank orders priorities for the delivery queue (higher first)
func PriorityRank(priority string) int {
	switch priority {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}
