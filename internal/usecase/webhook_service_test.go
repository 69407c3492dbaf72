package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	storagemock "github.com/autokita/wa-campaign-engine/internal/storage/mock"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

type webhookFixture struct {
	contactRepo  *storagemock.ContactRepoMock
	messageRepo  *storagemock.MessageRepoMock
	sessionRepo  *storagemock.SessionRepoMock
	campaignRepo *storagemock.CampaignRepoMock
	clk          *clock.Mock
	svc          *WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		contactRepo:  new(storagemock.ContactRepoMock),
		messageRepo:  new(storagemock.MessageRepoMock),
		sessionRepo:  new(storagemock.SessionRepoMock),
		campaignRepo: new(storagemock.CampaignRepoMock),
		clk:          clock.NewMock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)),
	}
	delivery := NewDeliveryService(f.messageRepo, f.campaignRepo, f.clk)
	f.svc = NewWebhookService(f.contactRepo, f.messageRepo, f.sessionRepo, delivery, f.clk)
	return f
}

func envelope(event, session string, payload interface{}) WebhookEnvelope {
	raw, _ := json.Marshal(payload)
	return WebhookEnvelope{Event: event, Session: session, Payload: raw}
}

func TestHandleInboundMessage(t *testing.T) {
	t.Run("creates contact on first message", func(t *testing.T) {
		f := newWebhookFixture(t)
		now := f.clk.Now()

		f.contactRepo.On("FindByPhone", mock.Anything, "628123456789").Return(nil, apperrors.ErrNotFound)
		f.contactRepo.On("Save", mock.Anything, mock.MatchedBy(func(c model.Contact) bool {
			return c.Phone == "628123456789" &&
				c.Name == "Budi" &&
				c.LeadStatus == model.LeadStatusNew &&
				c.Source == model.SourceInbound
		})).Return(nil)
		f.messageRepo.On("Save", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
			return m.Direction == model.DirectionInbound &&
				m.Status == model.MessageStatusDelivered &&
				m.ChannelMessageID == "wamid.in.1" &&
				m.Content == "Halo, masih ada promo?"
		})).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, mock.AnythingOfType("string"), now).Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessage, "sales-wa", map[string]interface{}{
			"id": "wamid.in.1", "from": "628123456789@c.us",
			"body": "Halo, masih ada promo?", "notifyName": "Budi",
		}))
		require.NoError(t, err)
		f.contactRepo.AssertExpectations(t)
	})

	t.Run("existing contact is reused and touched", func(t *testing.T) {
		f := newWebhookFixture(t)
		contact := model.NewContact(&model.Contact{ID: "c1", Phone: "628123456789"})

		f.contactRepo.On("FindByPhone", mock.Anything, "628123456789").Return(contact, nil)
		f.messageRepo.On("Save", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
			return m.ContactID == "c1"
		})).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, "c1", f.clk.Now()).Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessage, "sales-wa", map[string]interface{}{
			"id": "wamid.in.2", "from": "628123456789@c.us", "body": "Ya",
		}))
		require.NoError(t, err)
		f.contactRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("missing name defaults to placeholder", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.contactRepo.On("FindByPhone", mock.Anything, "628123456789").Return(nil, apperrors.ErrNotFound)
		f.contactRepo.On("Save", mock.Anything, mock.MatchedBy(func(c model.Contact) bool {
			return c.Name == defaultContactName
		})).Return(nil)
		f.messageRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessage, "sales-wa", map[string]interface{}{
			"id": "wamid.in.3", "from": "628123456789@c.us", "body": "Info dong",
		}))
		require.NoError(t, err)
		f.contactRepo.AssertExpectations(t)
	})

	t.Run("redelivered event is absorbed as duplicate", func(t *testing.T) {
		f := newWebhookFixture(t)
		contact := model.NewContact(&model.Contact{ID: "c1", Phone: "628123456789"})

		f.contactRepo.On("FindByPhone", mock.Anything, "628123456789").Return(contact, nil)
		f.messageRepo.On("Save", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
			return m.ChannelMessageID == "wamid.in.2"
		})).Return(apperrors.ErrDuplicate)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessage, "sales-wa", map[string]interface{}{
			"id": "wamid.in.2", "from": "628123456789@c.us", "body": "Ya",
		}))
		require.NoError(t, err)
		f.contactRepo.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed payload reported without panic", func(t *testing.T) {
		f := newWebhookFixture(t)
		err := f.svc.HandleEvent(context.Background(), WebhookEnvelope{
			Event: EventMessage, Session: "sales-wa", Payload: json.RawMessage(`{"from": 42}`),
		})
		require.Error(t, err)
		f.messageRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})
}

func TestHandleMessageAck(t *testing.T) {
	t.Run("routes ack to the delivery tracker", func(t *testing.T) {
		f := newWebhookFixture(t)
		now := f.clk.Now()
		message := model.NewMessage(&model.Message{ID: "m1", CampaignID: "camp-1", Status: model.MessageStatusSent})

		f.messageRepo.On("FindByChannelMessageID", mock.Anything, "wamid.77").Return(message, nil)
		f.messageRepo.On("TransitionStatus", mock.Anything, "m1", model.MessageStatusDelivered,
			mock.Anything, "delivered_at", now).Return(true, nil)
		f.campaignRepo.On("IncrementCounter", mock.Anything, "camp-1", "delivered_count").Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessageAck, "sales-wa",
			map[string]interface{}{"id": "wamid.77", "ack": 2}))
		require.NoError(t, err)
		f.campaignRepo.AssertExpectations(t)
	})

	t.Run("unknown external id is a no-op", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.messageRepo.On("FindByChannelMessageID", mock.Anything, "wamid.unknown").Return(nil, apperrors.ErrNotFound)

		err := f.svc.HandleEvent(context.Background(), envelope(EventMessageAck, "sales-wa",
			map[string]interface{}{"id": "wamid.unknown", "ack": 3}))
		require.NoError(t, err)
		f.messageRepo.AssertNotCalled(t, "TransitionStatus",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleSessionStatus(t *testing.T) {
	t.Run("normalizes status to lowercase", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "sales-wa", "working", f.clk.Now()).Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventSessionStatus, "sales-wa",
			map[string]interface{}{"status": "WORKING"}))
		require.NoError(t, err)
		f.sessionRepo.AssertExpectations(t)
	})

	t.Run("first event for unseen session creates it", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.sessionRepo.On("UpdateStatus", mock.Anything, "new-wa", "starting", f.clk.Now()).Return(apperrors.ErrNotFound)
		f.sessionRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(s model.ChannelSession) bool {
			return s.SessionName == "new-wa" && s.Status == "starting" && s.LastSeenAt != nil
		})).Return(nil)

		err := f.svc.HandleEvent(context.Background(), envelope(EventSessionStatus, "new-wa",
			map[string]interface{}{"status": "STARTING"}))
		require.NoError(t, err)
		f.sessionRepo.AssertExpectations(t)
	})
}

func TestHandleUnknownEvent(t *testing.T) {
	f := newWebhookFixture(t)
	err := f.svc.HandleEvent(context.Background(), envelope("group.join", "sales-wa", map[string]interface{}{}))
	assert.NoError(t, err)
}
