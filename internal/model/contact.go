package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lead status pipeline stages for a contact.
const (
	LeadStatusNew         = "new"
	LeadStatusContacted   = "contacted"
	LeadStatusQualified   = "qualified"
	LeadStatusProposal    = "proposal"
	LeadStatusNegotiation = "negotiation"
	LeadStatusClosedWon   = "closed_won"
	LeadStatusClosedLost  = "closed_lost"
)

// Contact sources.
const (
	SourceInbound = "whatsapp_inbound"
	SourceManual  = "manual"
	SourceImport  = "import"
)

// Contact represents a dealership lead. Phone is the unique business key.
// Contacts are never hard-deleted; gorm.DeletedAt gives recoverable soft
// removal.
type Contact struct {
	ID              string         `json:"id" gorm:"primaryKey;type:text"`
	Phone           string         `json:"phone" gorm:"uniqueIndex;type:text" validate:"required"`
	Name            string         `json:"name" gorm:"type:text"`
	Email           string         `json:"email,omitempty" gorm:"type:text"`
	LeadStatus      string         `json:"lead_status" gorm:"index;type:text;default:new" validate:"omitempty,oneof=new contacted qualified proposal negotiation closed_won closed_lost"`
	VehicleInterest string         `json:"vehicle_interest,omitempty" gorm:"type:text"`
	Budget          float64        `json:"budget,omitempty" gorm:"type:numeric"`
	Source          string         `json:"source,omitempty" gorm:"type:text"`
	Metadata        datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	AssignedTo      string         `json:"assigned_to,omitempty" gorm:"index;type:text"`
	CreatedAt       time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName() string {
	return "contacts"
}

// ContactUpdateColumns lists the columns refreshed when an inbound message
// touches an existing contact.
func ContactUpdateColumns() []string {
	return []string{"name", "updated_at"}
}
