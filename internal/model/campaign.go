package model

import (
	"time"
)

// Campaign lifecycle statuses.
// draft -> scheduled -> running -> paused <-> running -> completed.
// failed exists for administrative use only; no automatic transition
// reaches it.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Campaign is one bulk send. TotalRecipients is a snapshot captured when the
// audience is resolved at start; later contact changes do not move the
// denominator. The four counters only ever increase and are updated with
// atomic increments, never read-modify-write.
type Campaign struct {
	ID              string     `json:"id" gorm:"primaryKey;type:text"`
	Name            string     `json:"name" gorm:"type:text" validate:"required"`
	MessageTemplate string     `json:"message_template" gorm:"type:text" validate:"required"`
	MediaPath       string     `json:"media_path,omitempty" gorm:"type:text"`
	Status          string     `json:"status" gorm:"index;type:text;default:draft"`
	SegmentID       string     `json:"segment_id,omitempty" gorm:"index;type:text"`
	TotalRecipients int        `json:"total_recipients" gorm:"default:0"`
	SentCount       int        `json:"sent_count" gorm:"default:0"`
	DeliveredCount  int        `json:"delivered_count" gorm:"default:0"`
	ReadCount       int        `json:"read_count" gorm:"default:0"`
	FailedCount     int        `json:"failed_count" gorm:"default:0"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Campaign model.
func (Campaign) TableName() string {
	return "campaigns"
}

// IsTerminal reports whether no further dispatch work may happen.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// CanStart reports whether the campaign may transition to running.
func (c *Campaign) CanStart() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// CampaignStatistics summarizes campaign progress for the control surface.
type CampaignStatistics struct {
	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Read         int     `json:"read"`
	Failed       int     `json:"failed"`
	Pending      int     `json:"pending"`
	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
}

// Statistics derives progress numbers from the counter snapshot.
func (c *Campaign) Statistics() CampaignStatistics {
	stats := CampaignStatistics{
		Total:     c.TotalRecipients,
		Sent:      c.SentCount,
		Delivered: c.DeliveredCount,
		Read:      c.ReadCount,
		Failed:    c.FailedCount,
		Pending:   c.TotalRecipients - c.SentCount - c.FailedCount,
	}
	if c.SentCount > 0 {
		stats.DeliveryRate = roundRate(float64(c.DeliveredCount) / float64(c.SentCount) * 100)
	}
	if c.DeliveredCount > 0 {
		stats.ReadRate = roundRate(float64(c.ReadCount) / float64(c.DeliveredCount) * 100)
	}
	return stats
}

func roundRate(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
