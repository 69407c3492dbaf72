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
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/internal/validator"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// Sender is the outbound channel surface the dispatch path needs. The
// channel client implements it; tests substitute a mock.
type Sender interface {
	SendText(ctx context.Context, session, phone, text string) (string, error)
	SendImage(ctx context.Context, session, phone, mediaURL, caption string) (string, error)
}

// TaskEnqueuer publishes dispatch tasks. The JetStream queue implements it.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task dispatch.Task) error
}

// CreateCampaignInput carries the fields a caller may set when creating a
// campaign.
type CreateCampaignInput struct {
	Name            string     `json:"name" validate:"required,min=1,max=255"`
	MessageTemplate string     `json:"message_template" validate:"required"`
	MediaPath       string     `json:"media_path"`
	SegmentID       string     `json:"segment_id"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	CreatedBy       string     `json:"created_by"`
}

// UpdateCampaignInput carries the editable campaign fields.
type UpdateCampaignInput struct {
	Name            string     `json:"name"`
	MessageTemplate string     `json:"message_template"`
	MediaPath       string     `json:"media_path"`
	SegmentID       string     `json:"segment_id"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

// CampaignService drives the campaign lifecycle: creation, the audience
// snapshot taken at start, spaced task fan-out, pause/resume, and the send
// path the dispatch workers execute.
type CampaignService struct {
	campaignRepo storage.CampaignRepo
	messageRepo  storage.MessageRepo
	contactRepo  storage.ContactRepo
	audience     *AudienceService
	delivery     *DeliveryService
	sender       Sender
	queue        TaskEnqueuer
	// delayIncrement spaces consecutive send tasks; it matches the channel
	// client's per-message gate so worker-pool concurrency cannot burst.
	delayIncrement time.Duration
	clk            clock.Clock
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo storage.CampaignRepo,
	messageRepo storage.MessageRepo,
	contactRepo storage.ContactRepo,
	audience *AudienceService,
	delivery *DeliveryService,
	sender Sender,
	queue TaskEnqueuer,
	delayIncrement time.Duration,
	clk clock.Clock,
) *CampaignService {
	return &CampaignService{
		campaignRepo:   campaignRepo,
		messageRepo:    messageRepo,
		contactRepo:    contactRepo,
		audience:       audience,
		delivery:       delivery,
		sender:         sender,
		queue:          queue,
		delayIncrement: delayIncrement,
		clk:            clk,
	}
}

// Create validates the input and stores a new campaign. A future schedule
// time makes it scheduled, otherwise it starts life as a draft.
func (s *CampaignService) Create(ctx context.Context, input CreateCampaignInput) (*model.Campaign, error) {
	if err := validator.Validate(input); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	now := s.clk.Now()
	status := model.CampaignStatusDraft
	if input.ScheduledAt != nil && input.ScheduledAt.After(now) {
		status = model.CampaignStatusScheduled
	}

	campaign := model.Campaign{
		ID:              uuid.New().String(),
		Name:            input.Name,
		MessageTemplate: input.MessageTemplate,
		MediaPath:       input.MediaPath,
		Status:          status,
		SegmentID:       input.SegmentID,
		ScheduledAt:     input.ScheduledAt,
		CreatedBy:       input.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, handleRepositoryError(ctx, err, "CreateCampaign", campaign.ID)
	}

	logger.FromContext(ctx).Info("Campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.String("status", status),
	)
	return &campaign, nil
}

// Get loads a single campaign.
func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "GetCampaign", id)
	}
	return campaign, nil
}

// List returns campaigns, optionally filtered to one status.
func (s *CampaignService) List(ctx context.Context, status string) ([]model.Campaign, error) {
	if status != "" {
		campaigns, err := s.campaignRepo.FindByStatus(ctx, status)
		if err != nil {
			return nil, handleRepositoryError(ctx, err, "ListCampaigns", "")
		}
		return campaigns, nil
	}

	all := make([]model.Campaign, 0)
	for _, st := range []string{
		model.CampaignStatusDraft,
		model.CampaignStatusScheduled,
		model.CampaignStatusRunning,
		model.CampaignStatusPaused,
		model.CampaignStatusCompleted,
		model.CampaignStatusFailed,
	} {
		batch, err := s.campaignRepo.FindByStatus(ctx, st)
		if err != nil {
			return nil, handleRepositoryError(ctx, err, "ListCampaigns", "")
		}
		all = append(all, batch...)
	}
	return all, nil
}

// Update edits a campaign that has not started yet. Running, paused and
// finished campaigns are immutable; changing a template mid-flight would
// make the delivery counters meaningless.
func (s *CampaignService) Update(ctx context.Context, id string, input UpdateCampaignInput) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "UpdateCampaign", id)
	}

	if campaign.Status != model.CampaignStatusDraft && campaign.Status != model.CampaignStatusScheduled {
		return nil, fmt.Errorf("%w: campaign %s is %s and can no longer be edited", apperrors.ErrConflict, id, campaign.Status)
	}

	if input.Name != "" {
		campaign.Name = input.Name
	}
	if input.MessageTemplate != "" {
		campaign.MessageTemplate = input.MessageTemplate
	}
	if input.MediaPath != "" {
		campaign.MediaPath = input.MediaPath
	}
	if input.SegmentID != "" {
		campaign.SegmentID = input.SegmentID
	}
	if input.ScheduledAt != nil {
		campaign.ScheduledAt = input.ScheduledAt
		if input.ScheduledAt.After(s.clk.Now()) {
			campaign.Status = model.CampaignStatusScheduled
		}
	}

	if err := s.campaignRepo.Update(ctx, *campaign); err != nil {
		return nil, handleRepositoryError(ctx, err, "UpdateCampaign", id)
	}
	return campaign, nil
}

// Delete removes a draft. Anything past draft has history worth keeping.
func (s *CampaignService) Delete(ctx context.Context, id string) error {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return handleRepositoryError(ctx, err, "DeleteCampaign", id)
	}
	if campaign.Status != model.CampaignStatusDraft {
		return fmt.Errorf("%w: only draft campaigns can be deleted, campaign %s is %s", apperrors.ErrConflict, id, campaign.Status)
	}
	if err := s.campaignRepo.Delete(ctx, id); err != nil {
		return handleRepositoryError(ctx, err, "DeleteCampaign", id)
	}
	return nil
}

// Start transitions a draft or scheduled campaign to running, snapshots the
// audience as total_recipients, creates one pending message per recipient
// and enqueues the send tasks with increasing spacing offsets.
func (s *CampaignService) Start(ctx context.Context, id, session string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "StartCampaign", id)
	}
	if !campaign.CanStart() {
		return nil, fmt.Errorf("%w: campaign %s is %s, only draft or scheduled campaigns can start", apperrors.ErrConflict, id, campaign.Status)
	}

	recipients, err := s.resolveRecipients(ctx, campaign)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	campaign.Status = model.CampaignStatusRunning
	campaign.StartedAt = &now
	campaign.TotalRecipients = len(recipients)

	// An empty audience has nothing to dispatch; completing here keeps the
	// completion rule (sent + failed == total) from stranding the campaign.
	if len(recipients) == 0 {
		campaign.Status = model.CampaignStatusCompleted
		campaign.CompletedAt = &now
		if err := s.campaignRepo.Update(ctx, *campaign); err != nil {
			return nil, handleRepositoryError(ctx, err, "StartCampaign", id)
		}
		logger.FromContext(ctx).Info("Campaign completed immediately, audience empty",
			zap.String("campaign_id", id))
		observer.IncCampaignCompleted()
		return campaign, nil
	}

	if err := s.campaignRepo.Update(ctx, *campaign); err != nil {
		return nil, handleRepositoryError(ctx, err, "StartCampaign", id)
	}

	log := logger.FromContext(ctx)
	for k, contact := range recipients {
		message := model.Message{
			ID:         uuid.New().String(),
			ContactID:  contact.ID,
			CampaignID: campaign.ID,
			Direction:  model.DirectionOutbound,
			Status:     model.MessageStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.messageRepo.Save(ctx, message); err != nil {
			return nil, handleRepositoryError(ctx, err, "StartCampaign CreateMessage", message.ID)
		}

		notBefore := now.Add(time.Duration(k) * s.delayIncrement)
		task := dispatch.NewSendTask(campaign.ID, contact.ID, message.ID, session, notBefore, now)
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return nil, apperrors.NewRetryable(err, "failed to enqueue send task for campaign %s", campaign.ID)
		}
	}

	log.Info("Campaign started",
		zap.String("campaign_id", id),
		zap.Int("total_recipients", campaign.TotalRecipients),
		zap.String("session", session),
	)
	return campaign, nil
}

// Pause stops further dispatch of a running campaign. In-flight tasks see
// the paused status and leave their messages pending for resume.
func (s *CampaignService) Pause(ctx context.Context, id string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "PauseCampaign", id)
	}
	if campaign.Status != model.CampaignStatusRunning {
		return nil, fmt.Errorf("%w: campaign %s is %s, only running campaigns can pause", apperrors.ErrConflict, id, campaign.Status)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, id, model.CampaignStatusPaused); err != nil {
		return nil, handleRepositoryError(ctx, err, "PauseCampaign", id)
	}
	campaign.Status = model.CampaignStatusPaused
	logger.FromContext(ctx).Info("Campaign paused", zap.String("campaign_id", id))
	return campaign, nil
}

// Resume returns a paused campaign to running and re-enqueues only the
// messages still pending. Sent, delivered and failed messages are settled;
// re-enqueueing them would double-message contacts.
func (s *CampaignService) Resume(ctx context.Context, id, session string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResumeCampaign", id)
	}
	if campaign.Status != model.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: campaign %s is %s, only paused campaigns can resume", apperrors.ErrConflict, id, campaign.Status)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, id, model.CampaignStatusRunning); err != nil {
		return nil, handleRepositoryError(ctx, err, "ResumeCampaign", id)
	}
	campaign.Status = model.CampaignStatusRunning

	pending, err := s.messageRepo.FindByCampaignAndStatus(ctx, id, model.MessageStatusPending)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResumeCampaign ListPending", id)
	}

	now := s.clk.Now()
	for k, message := range pending {
		notBefore := now.Add(time.Duration(k) * s.delayIncrement)
		task := dispatch.NewSendTask(id, message.ContactID, message.ID, session, notBefore, now)
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return nil, apperrors.NewRetryable(err, "failed to re-enqueue send task for campaign %s", id)
		}
	}

	logger.FromContext(ctx).Info("Campaign resumed",
		zap.String("campaign_id", id),
		zap.Int("re_enqueued", len(pending)),
	)
	return campaign, nil
}

// Statistics computes the campaign's delivery funnel from its counters.
func (s *CampaignService) Statistics(ctx context.Context, id string) (*model.CampaignStatistics, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, id)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "CampaignStatistics", id)
	}
	stats := campaign.Statistics()
	return &stats, nil
}

// HandleSendTask executes one queued campaign send. Pausing or finishing
// the campaign between enqueue and execution turns the task into a no-op;
// the message stays pending and resume re-enqueues it.
func (s *CampaignService) HandleSendTask(ctx context.Context, task dispatch.Task) error {
	log := logger.FromContext(ctx).With(
		zap.String("campaign_id", task.CampaignID),
		zap.String("message_id", task.MessageID),
	)

	campaign, err := s.campaignRepo.FindByID(ctx, task.CampaignID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Send task for missing campaign dropped")
			return nil
		}
		return handleRepositoryError(ctx, err, "HandleSendTask LoadCampaign", task.CampaignID)
	}
	if campaign.Status != model.CampaignStatusRunning {
		// A retryable send failure leaves the message queued; put it back to
		// pending before the skip is acked, or resume's pending scan would
		// never pick it up again.
		if _, err := s.messageRepo.TransitionStatus(ctx, task.MessageID, model.MessageStatusPending,
			[]string{model.MessageStatusQueued}, "", s.clk.Now()); err != nil {
			return handleRepositoryError(ctx, err, "HandleSendTask Unqueue", task.MessageID)
		}
		log.Info("Campaign not running, skipping send task",
			zap.String("status", campaign.Status))
		return nil
	}

	message, err := s.messageRepo.FindByID(ctx, task.MessageID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Send task for missing message dropped")
			return nil
		}
		return handleRepositoryError(ctx, err, "HandleSendTask LoadMessage", task.MessageID)
	}
	if message.Status != model.MessageStatusPending && message.Status != model.MessageStatusQueued {
		log.Debug("Message already settled, skipping send task",
			zap.String("status", message.Status))
		return nil
	}

	contact, err := s.contactRepo.FindByID(ctx, task.ContactID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Contact removed after the snapshot; resolve the slot as failed
			// so the completion arithmetic still closes.
			return s.failMessage(ctx, task, "contact no longer exists")
		}
		return handleRepositoryError(ctx, err, "HandleSendTask LoadContact", task.ContactID)
	}

	content := RenderTemplate(campaign.MessageTemplate, *contact)

	if _, err := s.messageRepo.TransitionStatus(ctx, message.ID, model.MessageStatusQueued,
		[]string{model.MessageStatusPending}, "", s.clk.Now()); err != nil {
		return handleRepositoryError(ctx, err, "HandleSendTask MarkQueued", message.ID)
	}

	var channelMessageID string
	var sendErr error
	if campaign.MediaPath != "" {
		channelMessageID, sendErr = s.sender.SendImage(ctx, task.Session, contact.Phone, campaign.MediaPath, content)
	} else {
		channelMessageID, sendErr = s.sender.SendText(ctx, task.Session, contact.Phone, content)
	}

	if sendErr != nil {
		mapped := handleChannelError(ctx, sendErr, "HandleSendTask Send")
		if apperrors.IsRetryable(mapped) {
			return mapped
		}
		return s.failMessage(ctx, task, mapped.Error())
	}

	// Persist the rendered content alongside the sent record.
	update := model.Message{ID: message.ID, Content: content}
	if campaign.MediaPath != "" {
		update.MediaType = "image"
		update.MediaURL = campaign.MediaPath
	}
	if err := s.messageRepo.Update(ctx, update); err != nil {
		log.Warn("Failed to store rendered content", zap.Error(err))
	}

	if _, err := s.delivery.MarkSent(ctx, message.ID, channelMessageID); err != nil {
		return err
	}
	if err := s.contactRepo.Touch(ctx, contact.ID, s.clk.Now()); err != nil {
		log.Warn("Failed to record contact touch", zap.Error(err))
	}

	s.checkCompletion(ctx, task.CampaignID)
	return nil
}

// HandleSendTaskExhausted records the terminal failure of a send task whose
// retries are spent.
func (s *CampaignService) HandleSendTaskExhausted(ctx context.Context, task dispatch.Task, cause error) error {
	reason := "send retries exhausted"
	if cause != nil {
		reason = cause.Error()
	}
	return s.failMessage(ctx, task, reason)
}

func (s *CampaignService) failMessage(ctx context.Context, task dispatch.Task, reason string) error {
	applied, err := s.delivery.MarkFailed(ctx, task.MessageID, reason)
	if err != nil {
		return err
	}
	if applied {
		logger.FromContext(ctx).Warn("Campaign message failed",
			zap.String("campaign_id", task.CampaignID),
			zap.String("message_id", task.MessageID),
			zap.String("reason", reason),
		)
	}
	s.checkCompletion(ctx, task.CampaignID)
	return nil
}

// checkCompletion closes the campaign once every recipient is resolved. The
// store-level guard makes the transition exactly-once, so the completion
// metric and log fire a single time no matter how many workers race here.
func (s *CampaignService) checkCompletion(ctx context.Context, campaignID string) {
	completed, err := s.campaignRepo.CompleteIfDone(ctx, campaignID, s.clk.Now())
	if err != nil {
		logger.FromContext(ctx).Warn("Completion check failed",
			zap.String("campaign_id", campaignID),
			zap.Error(err))
		return
	}
	if completed {
		observer.IncCampaignCompleted()
		logger.FromContext(ctx).Info("Campaign completed",
			zap.String("campaign_id", campaignID))
	}
}

func (s *CampaignService) resolveRecipients(ctx context.Context, campaign *model.Campaign) ([]model.Contact, error) {
	if campaign.SegmentID == "" {
		contacts, err := s.contactRepo.FindAll(ctx)
		if err != nil {
			return nil, handleRepositoryError(ctx, err, "ResolveRecipients", campaign.ID)
		}
		return contacts, nil
	}

	// Refresh the membership cache so the snapshot reflects current data.
	if _, err := s.audience.Sync(ctx, campaign.SegmentID); err != nil {
		return nil, err
	}
	memberIDs, err := s.audience.segmentRepo.MemberIDs(ctx, campaign.SegmentID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResolveRecipients Members", campaign.SegmentID)
	}
	contacts, err := s.contactRepo.FindByIDs(ctx, memberIDs)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResolveRecipients Contacts", campaign.SegmentID)
	}
	return contacts, nil
}
