package model

import (
	"time"
)

// ContactSequence statuses.
const (
	ContactSequenceActive    = "active"
	ContactSequencePaused    = "paused"
	ContactSequenceCompleted = "completed"
	ContactSequenceCancelled = "cancelled"
)

// FollowUpSequence is an ordered series of time-delayed messages sent to a
// single contact over multiple days.
type FollowUpSequence struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	Name         string    `json:"name" gorm:"type:text" validate:"required"`
	Description  string    `json:"description,omitempty" gorm:"type:text"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	TriggerEvent string    `json:"trigger_event,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the FollowUpSequence model.
func (FollowUpSequence) TableName() string {
	return "follow_up_sequences"
}

// SequenceStep is one message of a sequence. StepOrder starts at 0 and
// DelayHours is the wait before this step runs, counted from enrollment for
// the first step and from the previous step's send for the rest.
type SequenceStep struct {
	ID              string    `json:"id" gorm:"primaryKey;type:text"`
	SequenceID      string    `json:"sequence_id" gorm:"index;type:text" validate:"required"`
	StepOrder       int       `json:"step_order"`
	DelayHours      int       `json:"delay_hours"`
	MessageTemplate string    `json:"message_template" gorm:"type:text" validate:"required"`
	MediaPath       string    `json:"media_path,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the SequenceStep model.
func (SequenceStep) TableName() string {
	return "sequence_steps"
}

// ContactSequence is one contact's active enrollment in a sequence.
// CurrentStep never decreases; a completed enrollment never sends again.
type ContactSequence struct {
	ID          string     `json:"id" gorm:"primaryKey;type:text"`
	ContactID   string     `json:"contact_id" gorm:"index;type:text" validate:"required"`
	SequenceID  string     `json:"sequence_id" gorm:"index;type:text" validate:"required"`
	CurrentStep int        `json:"current_step" gorm:"default:0"`
	Status      string     `json:"status" gorm:"index;type:text;default:active"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ContactSequence model.
func (ContactSequence) TableName() string {
	return "contact_sequences"
}
