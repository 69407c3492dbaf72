package model

import (
	"time"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message lifecycle statuses.
// pending -> queued -> sent -> delivered -> read; failed is reachable from
// queued or sent only. Once delivered the message can never become failed.
const (
	MessageStatusPending   = "pending"
	MessageStatusQueued    = "queued"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Acknowledgment codes reported by the channel provider.
const (
	AckSent      = 1
	AckDelivered = 2
	AckRead      = 3
)

// messageStatusRank orders the forward-only delivery statuses. failed sits
// outside the order and is handled explicitly.
var messageStatusRank = map[string]int{
	MessageStatusPending:   0,
	MessageStatusQueued:    1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusRead:      4,
}

// StatusRank returns the position of a delivery status in the forward order,
// or -1 for failed/unknown statuses.
func StatusRank(status string) int {
	rank, ok := messageStatusRank[status]
	if !ok {
		return -1
	}
	return rank
}

// Message is one inbound or outbound WhatsApp message. ChannelMessageID is
// the provider's id and the join key for acknowledgment events; it is empty
// until the send succeeds.
type Message struct {
	ID               string     `json:"id" gorm:"primaryKey;type:text"`
	ContactID        string     `json:"contact_id" gorm:"index;type:text" validate:"required"`
	CampaignID       string     `json:"campaign_id,omitempty" gorm:"index;type:text"`
	Direction        string     `json:"direction" gorm:"type:text" validate:"required,oneof=inbound outbound"`
	Content          string     `json:"content" gorm:"type:text"`
	MediaType        string     `json:"media_type,omitempty" gorm:"type:text"`
	MediaURL         string     `json:"media_url,omitempty" gorm:"type:text"`
	ChannelMessageID string     `json:"channel_message_id,omitempty" gorm:"uniqueIndex:uix_messages_channel_message_id,where:channel_message_id <> '';type:text"`
	Status           string     `json:"status" gorm:"index;type:text;default:pending"`
	ErrorMessage     string     `json:"error_message,omitempty" gorm:"type:text"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// CanFail reports whether the message may still transition to failed.
// Delivered and read messages cannot regress to failed.
func (m *Message) CanFail() bool {
	return m.Status == MessageStatusPending || m.Status == MessageStatusQueued || m.Status == MessageStatusSent
}
