package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/channel"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// Provider event names.
const (
	EventMessage       = "message"
	EventMessageAck    = "message.ack"
	EventSessionStatus = "session.status"
)

// WebhookEnvelope is the provider's event wrapper.
type WebhookEnvelope struct {
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

type inboundMessagePayload struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Body       string `json:"body"`
	NotifyName string `json:"notifyName"`
	Type       string `json:"type"`
}

type messageAckPayload struct {
	ID  string `json:"id"`
	Ack int    `json:"ack"`
}

type sessionStatusPayload struct {
	Status string `json:"status"`
}

const defaultContactName = "WhatsApp User"

// WebhookService ingests provider events. Any single event's failure is
// logged and swallowed; the HTTP layer always answers success so the
// provider does not re-deliver on our internal errors.
type WebhookService struct {
	contactRepo storage.ContactRepo
	messageRepo storage.MessageRepo
	sessionRepo storage.SessionRepo
	delivery    *DeliveryService
	clk         clock.Clock
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	contactRepo storage.ContactRepo,
	messageRepo storage.MessageRepo,
	sessionRepo storage.SessionRepo,
	delivery *DeliveryService,
	clk clock.Clock,
) *WebhookService {
	return &WebhookService{
		contactRepo: contactRepo,
		messageRepo: messageRepo,
		sessionRepo: sessionRepo,
		delivery:    delivery,
		clk:         clk,
	}
}

// HandleEvent routes one provider event. The returned error is for
// observability only; callers respond success to the provider regardless.
func (s *WebhookService) HandleEvent(ctx context.Context, envelope WebhookEnvelope) error {
	log := logger.FromContext(ctx).With(
		zap.String("event", envelope.Event),
		zap.String("session", envelope.Session),
	)

	var err error
	switch envelope.Event {
	case EventMessage:
		err = s.handleInboundMessage(ctx, envelope)
	case EventMessageAck:
		err = s.handleMessageAck(ctx, envelope)
	case EventSessionStatus:
		err = s.handleSessionStatus(ctx, envelope)
	default:
		log.Info("Ignoring unknown webhook event")
		observer.IncWebhookEvent(envelope.Event, "ignored")
		return nil
	}

	if err != nil {
		log.Error("Webhook event processing failed", zap.Error(err))
		observer.IncWebhookEvent(envelope.Event, "error")
		return err
	}
	observer.IncWebhookEvent(envelope.Event, "ok")
	return nil
}

// handleInboundMessage records an incoming chat message, creating the
// contact on first touch.
func (s *WebhookService) handleInboundMessage(ctx context.Context, envelope WebhookEnvelope) error {
	var payload inboundMessagePayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return apperrors.NewFatal(err, "malformed message payload")
	}
	if payload.From == "" || payload.ID == "" {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "message payload missing from or id")
	}

	phone := channel.PhoneFromChatID(payload.From)
	contact, err := s.findOrCreateContact(ctx, phone, payload.NotifyName)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	message := model.Message{
		ID:               uuid.New().String(),
		ContactID:        contact.ID,
		Direction:        model.DirectionInbound,
		Content:          payload.Body,
		ChannelMessageID: payload.ID,
		Status:           model.MessageStatusDelivered,
		DeliveredAt:      &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.messageRepo.Save(ctx, message); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// Provider redelivery of an event we already stored.
			return nil
		}
		return handleRepositoryError(ctx, err, "InboundMessage Save", message.ID)
	}

	if err := s.contactRepo.Touch(ctx, contact.ID, now); err != nil {
		logger.FromContext(ctx).Warn("Failed to record contact touch",
			zap.String("contact_id", contact.ID), zap.Error(err))
	}
	return nil
}

func (s *WebhookService) handleMessageAck(ctx context.Context, envelope WebhookEnvelope) error {
	var payload messageAckPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return apperrors.NewFatal(err, "malformed ack payload")
	}
	if payload.ID == "" {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "ack payload missing id")
	}
	return s.delivery.ApplyAck(ctx, payload.ID, payload.Ack, s.clk.Now())
}

func (s *WebhookService) handleSessionStatus(ctx context.Context, envelope WebhookEnvelope) error {
	var payload sessionStatusPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return apperrors.NewFatal(err, "malformed session status payload")
	}
	if envelope.Session == "" || payload.Status == "" {
		return apperrors.NewFatal(apperrors.ErrBadRequest, "session status payload missing fields")
	}

	status := strings.ToLower(payload.Status)
	err := s.sessionRepo.UpdateStatus(ctx, envelope.Session, status, s.clk.Now())
	if err != nil && errors.Is(err, apperrors.ErrNotFound) {
		// First status event for a session we have not seen yet.
		session := model.ChannelSession{
			ID:          uuid.New().String(),
			SessionName: envelope.Session,
			Status:      status,
			CreatedAt:   s.clk.Now(),
			UpdatedAt:   s.clk.Now(),
		}
		seenAt := s.clk.Now()
		session.LastSeenAt = &seenAt
		if err := s.sessionRepo.Upsert(ctx, session); err != nil {
			return handleRepositoryError(ctx, err, "SessionStatus Upsert", envelope.Session)
		}
		return nil
	}
	if err != nil {
		return handleRepositoryError(ctx, err, "SessionStatus Update", envelope.Session)
	}
	return nil
}

func (s *WebhookService) findOrCreateContact(ctx context.Context, phone, notifyName string) (*model.Contact, error) {
	contact, err := s.contactRepo.FindByPhone(ctx, phone)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, handleRepositoryError(ctx, err, "InboundMessage FindContact", phone)
	}

	name := notifyName
	if name == "" {
		name = defaultContactName
	}
	now := s.clk.Now()
	created := model.Contact{
		ID:         uuid.New().String(),
		Phone:      phone,
		Name:       name,
		LeadStatus: model.LeadStatusNew,
		Source:     model.SourceInbound,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.contactRepo.Save(ctx, created); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// Concurrent inbound events raced on creation.
			return s.contactRepo.FindByPhone(ctx, phone)
		}
		return nil, handleRepositoryError(ctx, err, "InboundMessage CreateContact", phone)
	}

	logger.FromContext(ctx).Info("Contact created from inbound message",
		zap.String("contact_id", created.ID),
		zap.String("phone", phone),
	)
	return &created, nil
}
