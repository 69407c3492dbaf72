package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/internal/usecase"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

const dueSequenceBatch = 100

// Scheduler periodically promotes due scheduled campaigns to running and
// re-enqueues follow-up steps whose run time passed while no task was in
// flight, the recovery path after restarts.
type Scheduler struct {
	campaignRepo storage.CampaignRepo
	campaigns    *usecase.CampaignService
	sequences    *usecase.SequenceService
	session      string
	tick         time.Duration
	// recoveryGrace is how far past next_run_at an enrollment must be before
	// recovery re-enqueues it. A NAK-delayed task can still be in flight up
	// to the queue's full retry horizon; recovering earlier double-sends the
	// current step.
	recoveryGrace time.Duration
	clk           clock.Clock
	cron          *cron.Cron
}

// New creates a new scheduler
func New(
	campaignRepo storage.CampaignRepo,
	campaigns *usecase.CampaignService,
	sequences *usecase.SequenceService,
	session string,
	tick time.Duration,
	recoveryGrace time.Duration,
	clk clock.Clock,
) *Scheduler {
	return &Scheduler{
		campaignRepo:  campaignRepo,
		campaigns:     campaigns,
		sequences:     sequences,
		session:       session,
		tick:          tick,
		recoveryGrace: recoveryGrace,
		clk:           clk,
		cron:          cron.New(),
	}
}

// Start registers the periodic jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.tick)

	if _, err := s.cron.AddFunc(spec, func() { s.promoteDueCampaigns(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule campaign promotion: %w", err)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.recoverDueSequences(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sequence recovery: %w", err)
	}

	s.cron.Start()
	logger.FromContext(ctx).Info("Scheduler started", zap.Duration("tick", s.tick))
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// promoteDueCampaigns starts every scheduled campaign whose run time has
// passed. A campaign another instance started in the meantime fails the
// CanStart check and is skipped.
func (s *Scheduler) promoteDueCampaigns(ctx context.Context) {
	log := logger.FromContext(ctx)

	due, err := s.campaignRepo.FindDueScheduled(ctx, s.clk.Now())
	if err != nil {
		log.Error("Failed to list due scheduled campaigns", zap.Error(err))
		return
	}

	for _, campaign := range due {
		if _, err := s.campaigns.Start(ctx, campaign.ID, s.session); err != nil {
			log.Error("Failed to start scheduled campaign",
				zap.String("campaign_id", campaign.ID),
				zap.Error(err))
			continue
		}
		log.Info("Scheduled campaign promoted to running",
			zap.String("campaign_id", campaign.ID))
	}
}

func (s *Scheduler) recoverDueSequences(ctx context.Context) {
	log := logger.FromContext(ctx)

	n, err := s.sequences.RecoverDue(ctx, s.session, s.recoveryGrace, dueSequenceBatch)
	if err != nil {
		log.Error("Failed to recover due sequence steps", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("Re-enqueued due sequence steps", zap.Int("count", n))
	}
}
