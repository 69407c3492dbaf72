package model

import (
	"time"

	"gorm.io/datatypes"
)

// Channel session statuses, stored lowercase regardless of how the provider
// spells them in status events.
const (
	SessionStatusStarting     = "starting"
	SessionStatusAwaitingLink = "scan_qr_code"
	SessionStatusWorking      = "working"
	SessionStatusFailed       = "failed"
	SessionStatusStopped      = "stopped"
)

// ChannelSession is one authenticated connection to the WhatsApp gateway.
type ChannelSession struct {
	ID          string         `json:"id" gorm:"primaryKey;type:text"`
	SessionName string         `json:"session_name" gorm:"uniqueIndex;type:text" validate:"required"`
	PhoneNumber string         `json:"phone_number,omitempty" gorm:"type:text"`
	Status      string         `json:"status" gorm:"type:text;default:starting"`
	LastSeenAt  *time.Time     `json:"last_seen_at,omitempty"`
	Config      datatypes.JSON `json:"config,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the ChannelSession model.
func (ChannelSession) TableName() string {
	return "channel_sessions"
}
