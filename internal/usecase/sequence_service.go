package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/dispatch"
	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/internal/validator"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// CreateSequenceInput carries a new sequence definition with its steps.
type CreateSequenceInput struct {
	Name         string                    `json:"name" validate:"required,min=1,max=255"`
	Description  string                    `json:"description"`
	TriggerEvent string                    `json:"trigger_event"`
	Steps        []CreateSequenceStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequenceStepInput is one step of a new sequence, in order.
type CreateSequenceStepInput struct {
	DelayHours      int    `json:"delay_hours" validate:"min=0"`
	MessageTemplate string `json:"message_template" validate:"required"`
	MediaPath       string `json:"media_path"`
}

// SequenceService runs follow-up sequences: enrollment, the per-step send
// executed by dispatch workers, and step advancement with the next run time
// always derived from the step just completed.
type SequenceService struct {
	sequenceRepo storage.SequenceRepo
	contactRepo  storage.ContactRepo
	messageRepo  storage.MessageRepo
	sender       Sender
	queue        TaskEnqueuer
	clk          clock.Clock
}

// NewSequenceService creates a new sequence service
func NewSequenceService(
	sequenceRepo storage.SequenceRepo,
	contactRepo storage.ContactRepo,
	messageRepo storage.MessageRepo,
	sender Sender,
	queue TaskEnqueuer,
	clk clock.Clock,
) *SequenceService {
	return &SequenceService{
		sequenceRepo: sequenceRepo,
		contactRepo:  contactRepo,
		messageRepo:  messageRepo,
		sender:       sender,
		queue:        queue,
		clk:          clk,
	}
}

// Create stores a sequence definition and its ordered steps.
func (s *SequenceService) Create(ctx context.Context, input CreateSequenceInput) (*model.FollowUpSequence, error) {
	if err := validator.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	now := s.clk.Now()
	seq := model.FollowUpSequence{
		ID:           uuid.New().String(),
		Name:         input.Name,
		Description:  input.Description,
		IsActive:     true,
		TriggerEvent: input.TriggerEvent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.sequenceRepo.SaveSequence(ctx, seq); err != nil {
		return nil, handleRepositoryError(ctx, err, "CreateSequence", seq.ID)
	}

	for order, in := range input.Steps {
		step := model.SequenceStep{
			ID:              uuid.New().String(),
			SequenceID:      seq.ID,
			StepOrder:       order,
			DelayHours:      in.DelayHours,
			MessageTemplate: in.MessageTemplate,
			MediaPath:       in.MediaPath,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.sequenceRepo.SaveStep(ctx, step); err != nil {
			return nil, handleRepositoryError(ctx, err, "CreateSequence SaveStep", step.ID)
		}
	}

	logger.FromContext(ctx).Info("Sequence created",
		zap.String("sequence_id", seq.ID),
		zap.Int("steps", len(input.Steps)),
	)
	return &seq, nil
}

// Get loads one sequence definition.
func (s *SequenceService) Get(ctx context.Context, id string) (*model.FollowUpSequence, error) {
	seq, err := s.sequenceRepo.FindSequenceByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "GetSequence", id)
	}
	return seq, nil
}

// Enroll starts a contact on a sequence. The first step runs after its own
// delay; enrollment itself sends nothing.
func (s *SequenceService) Enroll(ctx context.Context, contactID, sequenceID, session string) (*model.ContactSequence, error) {
	seq, err := s.sequenceRepo.FindSequenceByID(ctx, sequenceID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "EnrollContact", sequenceID)
	}
	if !seq.IsActive {
		return nil, fmt.Errorf("%w: sequence %s is inactive", apperrors.ErrConflict, sequenceID)
	}
	if _, err := s.contactRepo.FindByID(ctx, contactID); err != nil {
		return nil, handleRepositoryError(ctx, err, "EnrollContact", contactID)
	}

	firstStep, err := s.sequenceRepo.FindStep(ctx, sequenceID, 0)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: sequence %s has no steps", apperrors.ErrConflict, sequenceID)
		}
		return nil, handleRepositoryError(ctx, err, "EnrollContact FirstStep", sequenceID)
	}

	now := s.clk.Now()
	nextRun := now.Add(time.Duration(firstStep.DelayHours) * time.Hour)
	enrollment := model.ContactSequence{
		ID:          uuid.New().String(),
		ContactID:   contactID,
		SequenceID:  sequenceID,
		CurrentStep: 0,
		Status:      model.ContactSequenceActive,
		NextRunAt:   &nextRun,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sequenceRepo.SaveContactSequence(ctx, enrollment); err != nil {
		return nil, handleRepositoryError(ctx, err, "EnrollContact", enrollment.ID)
	}

	task := dispatch.NewFollowUpTask(enrollment.ID, session, nextRun, now)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, apperrors.NewRetryable(err, "failed to enqueue follow-up task for enrollment %s", enrollment.ID)
	}

	logger.FromContext(ctx).Info("Contact enrolled in sequence",
		zap.String("contact_id", contactID),
		zap.String("sequence_id", sequenceID),
		zap.Time("next_run_at", nextRun),
	)
	return &enrollment, nil
}

// Cancel stops an enrollment. Cancelled enrollments never send again; the
// in-flight task sees the status and becomes a no-op.
func (s *SequenceService) Cancel(ctx context.Context, enrollmentID string) error {
	enrollment, err := s.sequenceRepo.FindContactSequenceByID(ctx, enrollmentID)
	if err != nil {
		return handleRepositoryError(ctx, err, "CancelEnrollment", enrollmentID)
	}
	if enrollment.Status != model.ContactSequenceActive && enrollment.Status != model.ContactSequencePaused {
		return fmt.Errorf("%w: enrollment %s is %s", apperrors.ErrConflict, enrollmentID, enrollment.Status)
	}
	if err := s.sequenceRepo.UpdateContactSequenceStatus(ctx, enrollmentID, model.ContactSequenceCancelled); err != nil {
		return handleRepositoryError(ctx, err, "CancelEnrollment", enrollmentID)
	}
	return nil
}

// HandleFollowUpTask executes one sequence step for one enrollment. A
// retried invocation resumes at the same step; the step only advances after
// a successful send, and the next run time is derived from the step just
// completed.
func (s *SequenceService) HandleFollowUpTask(ctx context.Context, task dispatch.Task) error {
	log := logger.FromContext(ctx).With(
		zap.String("contact_sequence_id", task.ContactSequenceID),
	)

	enrollment, err := s.sequenceRepo.FindContactSequenceByID(ctx, task.ContactSequenceID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Follow-up task for missing enrollment dropped")
			return nil
		}
		return handleRepositoryError(ctx, err, "HandleFollowUpTask LoadEnrollment", task.ContactSequenceID)
	}
	if enrollment.Status != model.ContactSequenceActive {
		log.Info("Enrollment not active, skipping follow-up task",
			zap.String("status", enrollment.Status))
		return nil
	}

	step, err := s.sequenceRepo.FindStep(ctx, enrollment.SequenceID, enrollment.CurrentStep)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Past the last step.
			return s.completeEnrollment(ctx, enrollment.ID)
		}
		return handleRepositoryError(ctx, err, "HandleFollowUpTask LoadStep", enrollment.SequenceID)
	}

	contact, err := s.contactRepo.FindByID(ctx, enrollment.ContactID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Enrolled contact no longer exists, cancelling enrollment")
			if err := s.sequenceRepo.UpdateContactSequenceStatus(ctx, enrollment.ID, model.ContactSequenceCancelled); err != nil {
				return handleRepositoryError(ctx, err, "HandleFollowUpTask Cancel", enrollment.ID)
			}
			return nil
		}
		return handleRepositoryError(ctx, err, "HandleFollowUpTask LoadContact", enrollment.ContactID)
	}

	content := RenderTemplate(step.MessageTemplate, *contact)

	var channelMessageID string
	var sendErr error
	if step.MediaPath != "" {
		channelMessageID, sendErr = s.sender.SendImage(ctx, task.Session, contact.Phone, step.MediaPath, content)
	} else {
		channelMessageID, sendErr = s.sender.SendText(ctx, task.Session, contact.Phone, content)
	}
	if sendErr != nil {
		mapped := handleChannelError(ctx, sendErr, "HandleFollowUpTask Send")
		if apperrors.IsRetryable(mapped) {
			return mapped
		}
		// Fatal send: record the failed message but keep the enrollment at
		// the same step; the outer retry budget decides its fate.
		s.recordMessage(ctx, enrollment, step, contact, content, "", model.MessageStatusFailed, mapped.Error())
		return mapped
	}

	s.recordMessage(ctx, enrollment, step, contact, content, channelMessageID, model.MessageStatusSent, "")
	if err := s.contactRepo.Touch(ctx, contact.ID, s.clk.Now()); err != nil {
		log.Warn("Failed to record contact touch", zap.Error(err))
	}

	return s.advance(ctx, enrollment, task.Session)
}

// HandleFollowUpExhausted cancels an enrollment whose step could not be
// sent within the retry budget. Leaving it active would make the recovery
// scan re-enqueue the same failing step forever.
func (s *SequenceService) HandleFollowUpExhausted(ctx context.Context, task dispatch.Task, cause error) error {
	enrollment, err := s.sequenceRepo.FindContactSequenceByID(ctx, task.ContactSequenceID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return handleRepositoryError(ctx, err, "HandleFollowUpExhausted", task.ContactSequenceID)
	}
	if enrollment.Status != model.ContactSequenceActive {
		return nil
	}
	if err := s.sequenceRepo.UpdateContactSequenceStatus(ctx, enrollment.ID, model.ContactSequenceCancelled); err != nil {
		return handleRepositoryError(ctx, err, "HandleFollowUpExhausted", enrollment.ID)
	}
	logger.FromContext(ctx).Warn("Enrollment cancelled, follow-up retries exhausted",
		zap.String("contact_sequence_id", enrollment.ID),
		zap.Int("step", enrollment.CurrentStep),
		zap.Error(cause),
	)
	return nil
}

// RecoverDue re-enqueues follow-up tasks for active enrollments whose run
// time has passed, the restart path when scheduled deliveries were lost.
// Only enrollments overdue by more than olderThan are picked up: a task that
// is merely NAK-delayed is still in flight, and re-enqueueing it would send
// the current step twice.
func (s *SequenceService) RecoverDue(ctx context.Context, session string, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.clk.Now().Add(-olderThan)
	due, err := s.sequenceRepo.FindDueContactSequences(ctx, cutoff, limit)
	if err != nil {
		return 0, handleRepositoryError(ctx, err, "RecoverDueSequences", "")
	}
	for _, enrollment := range due {
		task := dispatch.NewFollowUpTask(enrollment.ID, session, s.clk.Now(), s.clk.Now())
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return 0, apperrors.NewRetryable(err, "failed to enqueue recovered follow-up %s", enrollment.ID)
		}
	}
	return len(due), nil
}

func (s *SequenceService) advance(ctx context.Context, enrollment *model.ContactSequence, session string) error {
	nextStep, err := s.sequenceRepo.FindStep(ctx, enrollment.SequenceID, enrollment.CurrentStep+1)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if _, err := s.sequenceRepo.AdvanceContactSequence(ctx, enrollment.ID, enrollment.CurrentStep, nil); err != nil {
				return handleRepositoryError(ctx, err, "HandleFollowUpTask Advance", enrollment.ID)
			}
			return s.completeEnrollment(ctx, enrollment.ID)
		}
		return handleRepositoryError(ctx, err, "HandleFollowUpTask NextStep", enrollment.SequenceID)
	}

	now := s.clk.Now()
	nextRun := now.Add(time.Duration(nextStep.DelayHours) * time.Hour)
	applied, err := s.sequenceRepo.AdvanceContactSequence(ctx, enrollment.ID, enrollment.CurrentStep, &nextRun)
	if err != nil {
		return handleRepositoryError(ctx, err, "HandleFollowUpTask Advance", enrollment.ID)
	}
	if !applied {
		// A concurrent redelivery already advanced it; do not schedule twice.
		logger.FromContext(ctx).Debug("Step already advanced by concurrent delivery",
			zap.String("contact_sequence_id", enrollment.ID))
		return nil
	}

	task := dispatch.NewFollowUpTask(enrollment.ID, session, nextRun, now)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The recovery scan picks the enrollment up from next_run_at.
		return apperrors.NewRetryable(err, "failed to schedule next follow-up for %s", enrollment.ID)
	}
	return nil
}

func (s *SequenceService) completeEnrollment(ctx context.Context, id string) error {
	if err := s.sequenceRepo.UpdateContactSequenceStatus(ctx, id, model.ContactSequenceCompleted); err != nil {
		return handleRepositoryError(ctx, err, "HandleFollowUpTask Complete", id)
	}
	logger.FromContext(ctx).Info("Sequence completed for contact",
		zap.String("contact_sequence_id", id))
	return nil
}

func (s *SequenceService) recordMessage(ctx context.Context, enrollment *model.ContactSequence, step *model.SequenceStep, contact *model.Contact, content, channelMessageID, status, errorMessage string) {
	now := s.clk.Now()
	message := model.Message{
		ID:               uuid.New().String(),
		ContactID:        contact.ID,
		Direction:        model.DirectionOutbound,
		Content:          content,
		ChannelMessageID: channelMessageID,
		Status:           status,
		ErrorMessage:     errorMessage,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if step.MediaPath != "" {
		message.MediaType = "image"
		message.MediaURL = step.MediaPath
	}
	if status == model.MessageStatusSent {
		message.SentAt = &now
	}
	if err := s.messageRepo.Save(ctx, message); err != nil {
		logger.FromContext(ctx).Warn("Failed to record sequence message",
			zap.String("contact_sequence_id", enrollment.ID),
			zap.Error(err))
	}
}
