package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// handleRepositoryError maps standard apperrors from the repository layer
// to FatalError or RetryableError for the use case layer.
func handleRepositoryError(ctx context.Context, err error, operation string, entityID string) error {
	if err == nil {
		return nil
	}

	log := logger.FromContext(ctx)

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	if entityID != "" {
		logFields = append(logFields, zap.String("entity_id", entityID))
	}

	// Specific fatal errors (cannot be resolved by retry)
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Repository operation failed: Not found", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	}
	if errors.Is(err, apperrors.ErrDuplicate) {
		log.Warn("Repository operation failed: Duplicate resource", logFields...)
		return apperrors.NewFatal(err, "%s failed: duplicate resource", operation)
	}
	if errors.Is(err, apperrors.ErrBadRequest) {
		log.Warn("Repository operation failed: Bad request", logFields...)
		return apperrors.NewFatal(err, "%s failed: bad request data", operation)
	}
	if errors.Is(err, apperrors.ErrConflict) {
		log.Warn("Repository operation failed: Conflict", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource conflict", operation)
	}

	// General database errors (potentially retryable)
	if errors.Is(err, apperrors.ErrDatabase) {
		log.Error("Repository operation failed: Database issue", logFields...)
		return apperrors.NewRetryable(err, "%s failed: database error", operation)
	}

	// Unknown errors default to retryable so transient conditions the
	// repository did not classify still get another attempt.
	log.Error("Repository operation failed: Unclassified error", logFields...)
	return apperrors.NewRetryable(err, "%s failed: unexpected error", operation)
}

// handleChannelError maps channel client errors for the task retry decision.
// Rate limiting and timeouts are retryable; gateway rejections are fatal.
func handleChannelError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	log := logger.FromContext(ctx)

	if apperrors.IsRateLimitedError(err) {
		log.Info("Channel send deferred by rate limit",
			zap.String("operation", operation),
			zap.Duration("retry_after", apperrors.RetryAfter(err)))
		return apperrors.NewRetryable(err, "%s deferred: rate limited", operation)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		log.Warn("Channel operation timed out", zap.String("operation", operation), zap.Error(err))
		return apperrors.NewRetryable(err, "%s failed: timeout", operation)
	}
	if apperrors.IsRetryable(err) {
		return err
	}
	log.Warn("Channel rejected send", zap.String("operation", operation), zap.Error(err))
	return apperrors.NewFatal(err, "%s failed: channel rejected request", operation)
}
