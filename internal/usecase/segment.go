package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/validator"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

// CreateSegmentInput carries a new segment definition.
type CreateSegmentInput struct {
	Name        string            `json:"name" validate:"required,min=1,max=255"`
	Description string            `json:"description"`
	Criteria    []model.Criterion `json:"criteria" validate:"dive"`
}

// CreateSegment stores a segment definition and materializes its membership
// with an initial sync.
func (s *AudienceService) CreateSegment(ctx context.Context, input CreateSegmentInput) (*model.Segment, error) {
	if err := validator.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	encoded, err := model.EncodeCriteria(input.Criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	now := utils.Now()
	segment := model.Segment{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Criteria:    encoded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.segmentRepo.Save(ctx, segment); err != nil {
		return nil, handleRepositoryError(ctx, err, "CreateSegment", segment.ID)
	}

	count, err := s.Sync(ctx, segment.ID)
	if err != nil {
		return nil, err
	}
	segment.ContactCount = count

	logger.FromContext(ctx).Info("Segment created",
		zap.String("segment_id", segment.ID),
		zap.Int("contact_count", count),
	)
	return &segment, nil
}

// GetSegment loads one segment definition.
func (s *AudienceService) GetSegment(ctx context.Context, id string) (*model.Segment, error) {
	segment, err := s.segmentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "GetSegment", id)
	}
	return segment, nil
}

// Preview resolves criteria without persisting anything, for the control
// surface's audience preview.
func (s *AudienceService) Preview(ctx context.Context, criteria []model.Criterion) ([]model.Contact, int, error) {
	matched, err := s.Resolve(ctx, criteria)
	if err != nil {
		return nil, 0, err
	}
	return matched, len(matched), nil
}
