package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// --- Message Repository Methods ---

// messageStampColumns is the whitelist for TransitionMessageStatus timestamp
// stamping.
var messageStampColumns = map[string]bool{
	"sent_at":      true,
	"delivered_at": true,
	"read_at":      true,
}

// SaveMessage creates a new message record.
func (r *PostgresRepo) SaveMessage(ctx context.Context, message model.Message) error {
	message.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMessage Commit", operation)
	observer.ObserveDbOperationDuration("save", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save message after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateMessage updates an existing message record.
func (r *PostgresRepo) UpdateMessage(ctx context.Context, message model.Message) error {
	message.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ?", message.ID).
			Updates(message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: message_id %s", apperrors.ErrNotFound, message.ID))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateMessage Commit", operation)
	observer.ObserveDbOperationDuration("update", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update message after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindMessageByID finds a message by its ID.
func (r *PostgresRepo) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&message)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: message_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessageByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "message", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find message by ID after retries",
			zap.String("message_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &message, nil
}

// FindMessageByChannelMessageID finds a message by the ID the channel gateway
// assigned when the send was accepted, the key ack events arrive with.
func (r *PostgresRepo) FindMessageByChannelMessageID(ctx context.Context, channelMessageID string) (*model.Message, error) {
	var message model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).Where("channel_message_id = ?", channelMessageID).First(&message)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: channel_message_id %s: %w", apperrors.ErrNotFound, channelMessageID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessageByChannelMessageID", operation)
	observer.ObserveDbOperationDuration("find_by_channel_id", "message", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find message by channel message ID after retries",
			zap.String("channel_message_id", channelMessageID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &message, nil
}

// FindMessagesByCampaignAndStatus lists a campaign's messages in one status.
func (r *PostgresRepo) FindMessagesByCampaignAndStatus(ctx context.Context, campaignID, status string) ([]model.Message, error) {
	var messages []model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("campaign_id = ? AND status = ?", campaignID, status).
			Order("created_at ASC").
			Find(&messages)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessagesByCampaignAndStatus", operation)
	observer.ObserveDbOperationDuration("find_by_campaign_status", "message", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list campaign messages after retries",
			zap.String("campaign_id", campaignID),
			zap.String("status", status),
			zap.Error(findErr))
		return nil, findErr
	}
	if messages == nil {
		return []model.Message{}, nil
	}
	return messages, nil
}

// MarkMessageSent transitions a message to sent and stores the channel
// message id in the same guarded UPDATE. Writing them separately leaves a
// window where an ack arrives before the id is stored and can never be
// matched to the row.
func (r *PostgresRepo) MarkMessageSent(ctx context.Context, messageID, channelMessageID string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     model.MessageStatusSent,
		"sent_at":    at,
		"updated_at": utils.Now(),
	}
	if channelMessageID != "" {
		updates["channel_message_id"] = channelMessageID
	}

	var applied bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND status IN ?", messageID,
				[]string{model.MessageStatusPending, model.MessageStatusQueued}).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		applied = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkMessageSent", operation)
	observer.ObserveDbOperationDuration("mark_sent", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark message sent after retries",
			zap.String("message_id", messageID),
			zap.Error(commitErr))
		return false, commitErr
	}
	return applied, nil
}

// TransitionMessageStatus moves a message to toStatus only when its current
// status is one of allowedFrom, optionally stamping a timestamp column in the
// same UPDATE. Guarding in the WHERE clause keeps the status ladder monotonic
// under duplicate and out-of-order ack events; the returned bool is true only
// for the invocation that applied the transition.
func (r *PostgresRepo) TransitionMessageStatus(ctx context.Context, messageID, toStatus string, allowedFrom []string, stampColumn string, at time.Time) (bool, error) {
	if len(allowedFrom) == 0 {
		return false, fmt.Errorf("%w: allowedFrom must not be empty", apperrors.ErrBadRequest)
	}
	if stampColumn != "" && !messageStampColumns[stampColumn] {
		return false, fmt.Errorf("%w: unknown message stamp column %q", apperrors.ErrBadRequest, stampColumn)
	}

	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": utils.Now(),
	}
	if stampColumn != "" {
		updates[stampColumn] = at
	}

	var applied bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND status IN ?", messageID, allowedFrom).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		applied = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "TransitionMessageStatus", operation)
	observer.ObserveDbOperationDuration("transition_"+toStatus, "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to transition message status after retries",
			zap.String("message_id", messageID),
			zap.String("to_status", toStatus),
			zap.Error(commitErr))
		return false, commitErr
	}
	return applied, nil
}
