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

// --- Campaign Repository Methods ---

// campaignCounterColumns is the whitelist for IncrementCampaignCounter.
var campaignCounterColumns = map[string]bool{
	"sent_count":      true,
	"delivered_count": true,
	"read_count":      true,
	"failed_count":    true,
}

// SaveCampaign creates a new campaign record.
func (r *PostgresRepo) SaveCampaign(ctx context.Context, campaign model.Campaign) error {
	campaign.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(&campaign)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveCampaign Commit", operation)
	observer.ObserveDbOperationDuration("save", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save campaign after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateCampaign updates an existing campaign record.
func (r *PostgresRepo) UpdateCampaign(ctx context.Context, campaign model.Campaign) error {
	campaign.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ?", campaign.ID).
			Updates(campaign)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: campaign_id %s", apperrors.ErrNotFound, campaign.ID))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCampaign Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update campaign after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindCampaignByID finds a campaign by its ID.
func (r *PostgresRepo) FindCampaignByID(ctx context.Context, id string) (*model.Campaign, error) {
	var campaign model.Campaign
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: campaign_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindCampaignByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find campaign by ID after retries",
			zap.String("campaign_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &campaign, nil
}

// FindCampaignsByStatus lists campaigns in the given status, newest first.
func (r *PostgresRepo) FindCampaignsByStatus(ctx context.Context, status string) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ?", status).
			Order("created_at DESC").
			Find(&campaigns)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindCampaignsByStatus", operation)
	observer.ObserveDbOperationDuration("find_by_status", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list campaigns by status after retries",
			zap.String("status", status),
			zap.Error(findErr))
		return nil, findErr
	}
	if campaigns == nil {
		return []model.Campaign{}, nil
	}
	return campaigns, nil
}

// FindDueScheduledCampaigns returns scheduled campaigns whose run time has
// passed, the scheduler promotes these to running.
func (r *PostgresRepo) FindDueScheduledCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", model.CampaignStatusScheduled, now).
			Order("scheduled_at ASC").
			Find(&campaigns)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindDueScheduledCampaigns", operation)
	observer.ObserveDbOperationDuration("find_due_scheduled", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list due scheduled campaigns after retries", zap.Error(findErr))
		return nil, findErr
	}
	if campaigns == nil {
		return []model.Campaign{}, nil
	}
	return campaigns, nil
}

// UpdateCampaignStatus sets the campaign status column only.
func (r *PostgresRepo) UpdateCampaignStatus(ctx context.Context, id, status string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: campaign_id %s", apperrors.ErrNotFound, id))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCampaignStatus", operation)
	observer.ObserveDbOperationDuration("update_status", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update campaign status after retries",
			zap.String("campaign_id", id),
			zap.String("status", status),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// IncrementCampaignCounter atomically bumps one of the campaign delivery
// counters. The increment runs as a single UPDATE expression so concurrent
// workers never lose counts.
func (r *PostgresRepo) IncrementCampaignCounter(ctx context.Context, id, counter string) error {
	if !campaignCounterColumns[counter] {
		return fmt.Errorf("%w: unknown campaign counter %q", apperrors.ErrBadRequest, counter)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ?", id).
			UpdateColumn(counter, gorm.Expr(counter+" + ?", 1))
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: campaign_id %s", apperrors.ErrNotFound, id))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "IncrementCampaignCounter", operation)
	observer.ObserveDbOperationDuration("increment_"+counter, "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to increment campaign counter after retries",
			zap.String("campaign_id", id),
			zap.String("counter", counter),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// CompleteCampaignIfDone transitions a running campaign to completed once
// every recipient has been resolved as sent or failed. The status guard in
// the WHERE clause makes the transition exactly-once under concurrent
// finishing workers; callers use the returned bool to fire completion side
// effects only once.
func (r *PostgresRepo) CompleteCampaignIfDone(ctx context.Context, id string, at time.Time) (bool, error) {
	var completed bool
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ? AND status = ? AND total_recipients > 0 AND sent_count + failed_count >= total_recipients",
				id, model.CampaignStatusRunning).
			Updates(map[string]interface{}{
				"status":       model.CampaignStatusCompleted,
				"completed_at": at,
				"updated_at":   utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		completed = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CompleteCampaignIfDone", operation)
	observer.ObserveDbOperationDuration("complete_if_done", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to check campaign completion after retries",
			zap.String("campaign_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	return completed, nil
}

// DeleteCampaign removes a campaign row.
func (r *PostgresRepo) DeleteCampaign(ctx context.Context, id string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Campaign{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: campaign_id %s", apperrors.ErrNotFound, id))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "DeleteCampaign", operation)
	observer.ObserveDbOperationDuration("delete", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to delete campaign after retries",
			zap.String("campaign_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
