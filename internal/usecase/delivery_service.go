package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// DeliveryService is the message delivery tracker. It owns the message
// status ladder (pending → queued → sent → delivered → read, failed from any
// pre-delivery state) and the campaign counters tied to it. Every transition
// is guarded in the store, so duplicate webhook events and queue redeliveries
// increment each counter at most once.
type DeliveryService struct {
	messageRepo  storage.MessageRepo
	campaignRepo storage.CampaignRepo
	clk          clock.Clock
}

// NewDeliveryService creates a new delivery tracker
func NewDeliveryService(messageRepo storage.MessageRepo, campaignRepo storage.CampaignRepo, clk clock.Clock) *DeliveryService {
	return &DeliveryService{
		messageRepo:  messageRepo,
		campaignRepo: campaignRepo,
		clk:          clk,
	}
}

// MarkSent records a successful channel send: status sent, sent_at stamped
// and the gateway's message ID stored, all in one guarded write so an ack
// arriving immediately after the send can resolve the row by channel ID.
// Bumps the campaign's sent_count; returns whether this call applied the
// transition.
func (s *DeliveryService) MarkSent(ctx context.Context, messageID, channelMessageID string) (bool, error) {
	applied, err := s.messageRepo.MarkSent(ctx, messageID, channelMessageID, s.clk.Now())
	if err != nil {
		return false, handleRepositoryError(ctx, err, "MarkSent", messageID)
	}
	if !applied {
		logger.FromContext(ctx).Debug("MarkSent skipped, message already past sent",
			zap.String("message_id", messageID))
		return false, nil
	}

	if err := s.incrementForMessage(ctx, messageID, "sent_count"); err != nil {
		return true, err
	}
	return true, nil
}

// MarkFailed records a terminal send failure. Messages already delivered or
// read stay as they are; failure only applies to pre-delivery states.
func (s *DeliveryService) MarkFailed(ctx context.Context, messageID, errorMessage string) (bool, error) {
	applied, err := s.messageRepo.TransitionStatus(ctx, messageID, model.MessageStatusFailed,
		[]string{model.MessageStatusPending, model.MessageStatusQueued, model.MessageStatusSent}, "", s.clk.Now())
	if err != nil {
		return false, handleRepositoryError(ctx, err, "MarkFailed", messageID)
	}
	if !applied {
		logger.FromContext(ctx).Debug("MarkFailed skipped, message already settled",
			zap.String("message_id", messageID))
		return false, nil
	}

	if errorMessage != "" {
		update := model.Message{ID: messageID, ErrorMessage: errorMessage}
		if err := s.messageRepo.Update(ctx, update); err != nil {
			return true, handleRepositoryError(ctx, err, "MarkFailed StoreError", messageID)
		}
	}

	if err := s.incrementForMessage(ctx, messageID, "failed_count"); err != nil {
		return true, err
	}
	return true, nil
}

// ApplyAck reconciles a channel acknowledgment event with the tracked
// message. Ack levels only ever move a message forward: a late "sent" ack
// after "delivered" is a no-op, and replaying the same ack twice counts once.
// Events for unknown channel message IDs are ignored; the gateway also acks
// traffic this engine never sent.
func (s *DeliveryService) ApplyAck(ctx context.Context, channelMessageID string, ack int, at time.Time) error {
	log := logger.FromContext(ctx).With(
		zap.String("channel_message_id", channelMessageID),
		zap.Int("ack", ack),
	)

	message, err := s.messageRepo.FindByChannelMessageID(ctx, channelMessageID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Debug("Ack for unknown message ignored")
			observer.IncAckApplied(strconv.Itoa(ack), "unknown_message")
			return nil
		}
		return handleRepositoryError(ctx, err, "ApplyAck Lookup", channelMessageID)
	}

	var (
		toStatus    string
		allowedFrom []string
		stampColumn string
		counter     string
	)

	switch ack {
	case model.AckSent:
		toStatus = model.MessageStatusSent
		allowedFrom = []string{model.MessageStatusPending, model.MessageStatusQueued}
		stampColumn = "sent_at"
	case model.AckDelivered:
		toStatus = model.MessageStatusDelivered
		allowedFrom = []string{model.MessageStatusPending, model.MessageStatusQueued, model.MessageStatusSent}
		stampColumn = "delivered_at"
		counter = "delivered_count"
	case model.AckRead:
		toStatus = model.MessageStatusRead
		allowedFrom = []string{model.MessageStatusPending, model.MessageStatusQueued, model.MessageStatusSent, model.MessageStatusDelivered}
		stampColumn = "read_at"
		counter = "read_count"
	default:
		log.Debug("Unknown ack level ignored")
		observer.IncAckApplied(strconv.Itoa(ack), "unknown_level")
		return nil
	}

	applied, err := s.messageRepo.TransitionStatus(ctx, message.ID, toStatus, allowedFrom, stampColumn, at)
	if err != nil {
		return handleRepositoryError(ctx, err, "ApplyAck Transition", message.ID)
	}
	if !applied {
		log.Debug("Ack ignored, message already past this status",
			zap.String("to_status", toStatus))
		observer.IncAckApplied(strconv.Itoa(ack), "duplicate")
		return nil
	}

	observer.IncAckApplied(strconv.Itoa(ack), "applied")

	if counter != "" && message.CampaignID != "" {
		if err := s.campaignRepo.IncrementCounter(ctx, message.CampaignID, counter); err != nil {
			return handleRepositoryError(ctx, err, "ApplyAck IncrementCounter", message.CampaignID)
		}
	}

	log.Info("Ack applied", zap.String("to_status", toStatus))
	return nil
}

// incrementForMessage bumps a campaign counter for a campaign-bound message.
// Direct and follow-up messages have no campaign and skip counters.
func (s *DeliveryService) incrementForMessage(ctx context.Context, messageID, counter string) error {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return handleRepositoryError(ctx, err, "IncrementForMessage Lookup", messageID)
	}
	if message.CampaignID == "" {
		return nil
	}
	if err := s.campaignRepo.IncrementCounter(ctx, message.CampaignID, counter); err != nil {
		return handleRepositoryError(ctx, err, "IncrementForMessage", message.CampaignID)
	}
	return nil
}
