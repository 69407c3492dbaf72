package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomJSONB generates random JSON data for testing.
func RandomJSONB() datatypes.JSON {
	jsonData := map[string]interface{}{
		"note": gofakeit.Word(),
		"seed": gofakeit.Number(1, 100),
	}
	bytes, _ := json.Marshal(jsonData)
	return datatypes.JSON(bytes)
}

// NewContact creates a Contact instance with default fake data, applying any
// non-zero fields from the optional override.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:              gofakeit.UUID(),
		Phone:           "628" + gofakeit.DigitN(10),
		Name:            gofakeit.Name(),
		Email:           gofakeit.Email(),
		LeadStatus:      gofakeit.RandomString([]string{LeadStatusNew, LeadStatusContacted, LeadStatusQualified}),
		VehicleInterest: gofakeit.RandomString([]string{"Toyota Avanza", "Toyota Innova", "Honda Civic", "Honda Brio"}),
		Budget:          float64(gofakeit.Number(100, 500)) * 1000000,
		Source:          SourceManual,
		Metadata:        RandomJSONB(),
		CreatedAt:       utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.LeadStatus != "" {
			base.LeadStatus = ovr.LeadStatus
		}
		if ovr.VehicleInterest != "" {
			base.VehicleInterest = ovr.VehicleInterest
		}
		if ovr.Budget != 0 {
			base.Budget = ovr.Budget
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.AssignedTo != "" {
			base.AssignedTo = ovr.AssignedTo
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewCampaign creates a Campaign instance with default fake data.
func NewCampaign(overrideDefaults ...*Campaign) *Campaign {
	base := &Campaign{
		ID:              gofakeit.UUID(),
		Name:            gofakeit.ProductName(),
		MessageTemplate: "Halo [Nama], ada promo untuk [Kendaraan]!",
		Status:          CampaignStatusDraft,
		CreatedAt:       utils.Now(),
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.MessageTemplate != "" {
			base.MessageTemplate = ovr.MessageTemplate
		}
		if ovr.MediaPath != "" {
			base.MediaPath = ovr.MediaPath
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.SegmentID != "" {
			base.SegmentID = ovr.SegmentID
		}
		if ovr.TotalRecipients != 0 {
			base.TotalRecipients = ovr.TotalRecipients
		}
		if ovr.SentCount != 0 {
			base.SentCount = ovr.SentCount
		}
		if ovr.FailedCount != 0 {
			base.FailedCount = ovr.FailedCount
		}
		if ovr.ScheduledAt != nil {
			base.ScheduledAt = ovr.ScheduledAt
		}
	}
	return base
}

// NewMessage creates a Message instance with default fake data.
func NewMessage(overrideDefaults ...*Message) *Message {
	base := &Message{
		ID:        gofakeit.UUID(),
		ContactID: gofakeit.UUID(),
		Direction: DirectionOutbound,
		Content:   gofakeit.Sentence(8),
		Status:    MessageStatusPending,
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.CampaignID != "" {
			base.CampaignID = ovr.CampaignID
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.Content != "" {
			base.Content = ovr.Content
		}
		if ovr.ChannelMessageID != "" {
			base.ChannelMessageID = ovr.ChannelMessageID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.SentAt != nil {
			base.SentAt = ovr.SentAt
		}
		if ovr.DeliveredAt != nil {
			base.DeliveredAt = ovr.DeliveredAt
		}
		if ovr.ReadAt != nil {
			base.ReadAt = ovr.ReadAt
		}
	}
	return base
}
