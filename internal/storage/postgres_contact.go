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

// --- Contact Repository Methods ---

// SaveContact creates a contact, or updates the existing record when the
// phone number is already known.
func (r *PostgresRepo) SaveContact(ctx context.Context, contact model.Contact) error {
	contact.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns(model.ContactUpdateColumns()),
		}).Create(&contact)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveContact Commit", operation)
	observer.ObserveDbOperationDuration("save", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save contact after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateContact updates an existing contact record under a row lock.
func (r *PostgresRepo) UpdateContact(ctx context.Context, contact model.Contact) error {
	contact.UpdatedAt = utils.Now()

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

		var existing model.Contact
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", contact.ID).
			First(&existing)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: contact not found for update (ID: %s): %w", apperrors.ErrNotFound, contact.ID, result.Error)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock contact row: %w", apperrors.ErrDatabase, result.Error)
			return txErr
		}

		if updateErr := tx.Model(&existing).Updates(contact).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateContact Commit", operation)
	observer.ObserveDbOperationDuration("update", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update contact after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindContactByID finds a contact by its ID.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact by ID after retries",
			zap.String("contact_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// FindContactByPhone finds a contact by its normalized phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone = ?", phone).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: phone %s: %w", apperrors.ErrNotFound, phone, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByPhone", operation)
	observer.ObserveDbOperationDuration("find_by_phone", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact by phone after retries",
			zap.String("phone", phone),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// FindAllContacts returns every non-deleted contact.
func (r *PostgresRepo) FindAllContacts(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Order("created_at ASC").Find(&contacts)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAllContacts", operation)
	observer.ObserveDbOperationDuration("find_all", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list contacts after retries", zap.Error(findErr))
		return nil, findErr
	}
	if contacts == nil {
		return []model.Contact{}, nil
	}
	return contacts, nil
}

// FindContactsByIDs loads the given contacts. IDs without a matching row are
// skipped, deleted contacts drop out of an audience silently.
func (r *PostgresRepo) FindContactsByIDs(ctx context.Context, ids []string) ([]model.Contact, error) {
	if len(ids) == 0 {
		return []model.Contact{}, nil
	}

	var contacts []model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&contacts)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactsByIDs", operation)
	observer.ObserveDbOperationDuration("find_by_ids", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to load contacts by IDs after retries",
			zap.Int("count", len(ids)),
			zap.Error(findErr))
		return nil, findErr
	}
	if contacts == nil {
		return []model.Contact{}, nil
	}
	return contacts, nil
}

// TouchContact bumps updated_at, recording the last outbound touch.
func (r *PostgresRepo) TouchContact(ctx context.Context, id string, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Contact{}).
			Where("id = ?", id).
			UpdateColumn("updated_at", at)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "TouchContact", operation)
	observer.ObserveDbOperationDuration("touch", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to touch contact after retries",
			zap.String("contact_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// SoftDeleteContact marks a contact deleted without removing the row.
func (r *PostgresRepo) SoftDeleteContact(ctx context.Context, id string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Contact{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: contact_id %s", apperrors.ErrNotFound, id))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SoftDeleteContact", operation)
	observer.ObserveDbOperationDuration("delete", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to delete contact after retries",
			zap.String("contact_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
