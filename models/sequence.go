package models

import (
	"time"

	"gorm.io/gorm"

	"mailtrigger/utils"
)

// Sequence represents an automated email sequence fired by webhook events
type Sequence struct {
	gorm.Model
	CompanyID     uint `gorm:"not null;index" json:"company_id"`
	UserID        uint `gorm:"not null;index" json:"user_id"`
	WebhookLinkID uint `gorm:"not null;index" json:"webhook_link_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// Event that starts this sequence: 'immediate', 'purchase_complete',
	// 'purchase_canceled', 'abandoned_cart', ...
	TriggerEvent      string             `json:"trigger_event"`
	TriggerConditions utils.ConditionSet `gorm:"type:jsonb;serializer:json" json:"trigger_conditions,omitempty"`
	Settings          map[string]string  `gorm:"type:jsonb;serializer:json" json:"settings,omitempty"`

	Active bool `gorm:"default:true" json:"active"`

	// Statistics (denormalized for performance)
	TotalExecutions      int        `gorm:"default:0" json:"total_executions"`
	SuccessfulExecutions int        `gorm:"default:0" json:"successful_executions"`
	LastExecutionAt      *time.Time `json:"last_execution_at"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Jobs  []EmailJob     `gorm:"foreignKey:SequenceID" json:"jobs,omitempty"`
}

// SequenceStep represents one stage of a sequence, bound to a template
// and a delay policy
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepOrder int `gorm:"not null" json:"step_order"`

	// Delay policy: kind plus kind-specific parameters
	DelayType    string            `gorm:"default:'fixed_delay'" json:"delay_type"` // immediate, fixed_delay, business_hours, specific_time
	DelayMinutes int               `gorm:"default:0" json:"delay_minutes"`
	DelayConfig  utils.DelayConfig `gorm:"type:jsonb;serializer:json" json:"delay_config,omitempty"`

	Conditions utils.ConditionSet `gorm:"type:jsonb;serializer:json" json:"conditions,omitempty"`

	Active bool `gorm:"default:true" json:"active"`

	// Tracking
	ExecutionCount int `gorm:"default:0" json:"execution_count"`
	SuccessCount   int `gorm:"default:0" json:"success_count"`
	FailureCount   int `gorm:"default:0" json:"failure_count"`

	// Relations
	Template Template `json:"template,omitempty"`
}

// DelayPolicy builds the evaluator input for this step
func (s *SequenceStep) DelayPolicy() utils.DelayPolicy {
	return utils.DelayPolicy{
		Kind:    s.DelayType,
		Minutes: s.DelayMinutes,
		Config:  s.DelayConfig,
	}
}
