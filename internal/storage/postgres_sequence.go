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

// --- Sequence Repository Methods ---

// SaveFollowUpSequence creates a new follow-up sequence definition.
func (r *PostgresRepo) SaveFollowUpSequence(ctx context.Context, seq model.FollowUpSequence) error {
	seq.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&seq)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveFollowUpSequence Commit", operation)
	observer.ObserveDbOperationDuration("save", "sequence", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save follow-up sequence after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindFollowUpSequenceByID finds a sequence definition by its ID.
func (r *PostgresRepo) FindFollowUpSequenceByID(ctx context.Context, id string) (*model.FollowUpSequence, error) {
	var seq model.FollowUpSequence
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&seq)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: sequence_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindFollowUpSequenceByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "sequence", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find follow-up sequence after retries",
			zap.String("sequence_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &seq, nil
}

// SaveSequenceStep creates a new step inside a sequence definition.
func (r *PostgresRepo) SaveSequenceStep(ctx context.Context, step model.SequenceStep) error {
	step.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&step)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveSequenceStep Commit", operation)
	observer.ObserveDbOperationDuration("save", "sequence_step", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save sequence step after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindSequenceStep returns the step at the given order within a sequence.
// A missing row means the enrollment walked past the last step and should
// complete.
func (r *PostgresRepo) FindSequenceStep(ctx context.Context, sequenceID string, order int) (*model.SequenceStep, error) {
	var step model.SequenceStep
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("sequence_id = ? AND step_order = ?", sequenceID, order).
			First(&step)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: sequence %s step %d: %w", apperrors.ErrNotFound, sequenceID, order, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindSequenceStep", operation)
	observer.ObserveDbOperationDuration("find_step", "sequence", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find sequence step after retries",
			zap.String("sequence_id", sequenceID),
			zap.Int("step_order", order),
			zap.Error(findErr))
		return nil, findErr
	}
	return &step, nil
}

// SaveContactSequence creates a new enrollment record.
func (r *PostgresRepo) SaveContactSequence(ctx context.Context, cs model.ContactSequence) error {
	cs.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&cs)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveContactSequence Commit", operation)
	observer.ObserveDbOperationDuration("save", "contact_sequence", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save contact sequence after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindContactSequenceByID finds an enrollment by its ID.
func (r *PostgresRepo) FindContactSequenceByID(ctx context.Context, id string) (*model.ContactSequence, error) {
	var cs model.ContactSequence
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&cs)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact_sequence_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactSequenceByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "contact_sequence", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact sequence after retries",
			zap.String("contact_sequence_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &cs, nil
}

// FindDueContactSequences lists active enrollments whose next run time has
// passed. The scheduler drains these after restarts, so the queue losing a
// delayed task never strands an enrollment.
func (r *PostgresRepo) FindDueContactSequences(ctx context.Context, now time.Time, limit int) ([]model.ContactSequence, error) {
	var due []model.ContactSequence
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", model.ContactSequenceActive, now).
			Order("next_run_at ASC").
			Limit(limit).
			Find(&due)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindDueContactSequences", operation)
	observer.ObserveDbOperationDuration("find_due", "contact_sequence", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list due contact sequences after retries", zap.Error(findErr))
		return nil, findErr
	}
	if due == nil {
		return []model.ContactSequence{}, nil
	}
	return due, nil
}

// AdvanceContactSequence bumps current_step from fromStep to fromStep+1 and
// records when the next step is due. The fromStep guard in the WHERE clause
// keeps the step index monotonic when the same step task is redelivered.
func (r *PostgresRepo) AdvanceContactSequence(ctx context.Context, id string, fromStep int, nextRunAt *time.Time) (bool, error) {
	var applied bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ContactSequence{}).
			Where("id = ? AND current_step = ? AND status = ?", id, fromStep, model.ContactSequenceActive).
			Updates(map[string]interface{}{
				"current_step": fromStep + 1,
				"next_run_at":  nextRunAt,
				"updated_at":   utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		applied = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AdvanceContactSequence", operation)
	observer.ObserveDbOperationDuration("advance", "contact_sequence", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to advance contact sequence after retries",
			zap.String("contact_sequence_id", id),
			zap.Int("from_step", fromStep),
			zap.Error(commitErr))
		return false, commitErr
	}
	return applied, nil
}

// UpdateContactSequenceStatus sets the enrollment status. Completion and
// cancellation both clear next_run_at so the scheduler stops picking the row
// up.
func (r *PostgresRepo) UpdateContactSequenceStatus(ctx context.Context, id, status string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": utils.Now(),
	}
	if status == model.ContactSequenceCompleted || status == model.ContactSequenceCancelled {
		updates["next_run_at"] = gorm.Expr("NULL")
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.ContactSequence{}).
			Where("id = ?", id).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: contact_sequence_id %s", apperrors.ErrNotFound, id))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateContactSequenceStatus", operation)
	observer.ObserveDbOperationDuration("update_status", "contact_sequence", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update contact sequence status after retries",
			zap.String("contact_sequence_id", id),
			zap.String("status", status),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
