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

// --- Segment Repository Methods ---

// SaveSegment creates a new segment record.
func (r *PostgresRepo) SaveSegment(ctx context.Context, segment model.Segment) error {
	segment.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&segment)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveSegment Commit", operation)
	observer.ObserveDbOperationDuration("save", "segment", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save segment after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateSegment updates an existing segment record.
func (r *PostgresRepo) UpdateSegment(ctx context.Context, segment model.Segment) error {
	segment.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Segment{}).
			Where("id = ?", segment.ID).
			Updates(segment)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: segment_id %s", apperrors.ErrNotFound, segment.ID))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateSegment Commit", operation)
	observer.ObserveDbOperationDuration("update", "segment", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update segment after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindSegmentByID finds a segment by its ID.
func (r *PostgresRepo) FindSegmentByID(ctx context.Context, id string) (*model.Segment, error) {
	var segment model.Segment
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&segment)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: segment_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindSegmentByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "segment", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find segment by ID after retries",
			zap.String("segment_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &segment, nil
}

// ReplaceSegmentMembers swaps the segment's membership for the given contact
// set and stores the new contact_count, all in one transaction so readers
// never observe a half-synced segment.
func (r *PostgresRepo) ReplaceSegmentMembers(ctx context.Context, segmentID string, contactIDs []string) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		if delErr := tx.Where("segment_id = ?", segmentID).Delete(&model.SegmentMember{}).Error; delErr != nil {
			txErr = checkConstraintViolation(delErr)
			return txErr
		}

		if len(contactIDs) > 0 {
			members := make([]model.SegmentMember, 0, len(contactIDs))
			for _, contactID := range contactIDs {
				members = append(members, model.SegmentMember{SegmentID: segmentID, ContactID: contactID})
			}
			if insErr := tx.CreateInBatches(&members, 500).Error; insErr != nil {
				txErr = checkConstraintViolation(insErr)
				return txErr
			}
		}

		updateResult := tx.Model(&model.Segment{}).
			Where("id = ?", segmentID).
			Updates(map[string]interface{}{
				"contact_count": len(contactIDs),
				"updated_at":    utils.Now(),
			})
		if updateResult.Error != nil {
			txErr = checkConstraintViolation(updateResult.Error)
			return txErr
		}
		if updateResult.RowsAffected == 0 {
			txErr = fmt.Errorf("%w: segment_id %s", apperrors.ErrNotFound, segmentID)
			return backoff.Permanent(txErr)
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit member replacement: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ReplaceSegmentMembers Commit", operation)
	observer.ObserveDbOperationDuration("replace_members", "segment", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to replace segment members after retries",
			zap.String("segment_id", segmentID),
			zap.Int("member_count", len(contactIDs)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// SegmentMemberIDs lists the contact IDs cached for a segment.
func (r *PostgresRepo) SegmentMemberIDs(ctx context.Context, segmentID string) ([]string, error) {
	var ids []string
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.SegmentMember{}).
			Where("segment_id = ?", segmentID).
			Pluck("contact_id", &ids)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "SegmentMemberIDs", operation)
	observer.ObserveDbOperationDuration("member_ids", "segment", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list segment members after retries",
			zap.String("segment_id", segmentID),
			zap.Error(findErr))
		return nil, findErr
	}
	if ids == nil {
		return []string{}, nil
	}
	return ids, nil
}
