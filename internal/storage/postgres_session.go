package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// --- Channel Session Repository Methods ---

// UpsertChannelSession creates or refreshes a session record keyed by
// session_name.
func (r *PostgresRepo) UpsertChannelSession(ctx context.Context, session model.ChannelSession) error {
	session.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"phone_number", "status", "last_seen_at", "config", "updated_at"}),
		}).Create(&session)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertChannelSession Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "session", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert channel session after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindChannelSessionByName finds a session by its gateway session name.
func (r *PostgresRepo) FindChannelSessionByName(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	var session model.ChannelSession
	operation := func() error {
		result := r.db.WithContext(ctx).Where("session_name = ?", sessionName).First(&session)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: session_name %s: %w", apperrors.ErrNotFound, sessionName, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindChannelSessionByName", operation)
	observer.ObserveDbOperationDuration("find_by_name", "session", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find channel session after retries",
			zap.String("session_name", sessionName),
			zap.Error(findErr))
		return nil, findErr
	}
	return &session, nil
}

// UpdateChannelSessionStatus records a session-status event from the gateway.
func (r *PostgresRepo) UpdateChannelSessionStatus(ctx context.Context, sessionName, status string, seenAt time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ChannelSession{}).
			Where("session_name = ?", sessionName).
			Updates(map[string]interface{}{
				"status":       status,
				"last_seen_at": seenAt,
				"updated_at":   utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: session_name %s", apperrors.ErrNotFound, sessionName))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateChannelSessionStatus", operation)
	observer.ObserveDbOperationDuration("update_status", "session", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update channel session status after retries",
			zap.String("session_name", sessionName),
			zap.String("status", status),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
