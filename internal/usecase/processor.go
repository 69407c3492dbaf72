package usecase

import (
	"context"
	"fmt"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/dispatch"
)

// TaskProcessor routes dispatch queue deliveries to the owning service. It
// implements dispatch.TaskHandler.
type TaskProcessor struct {
	campaigns *CampaignService
	sequences *SequenceService
}

// NewTaskProcessor creates a new task processor
func NewTaskProcessor(campaigns *CampaignService, sequences *SequenceService) *TaskProcessor {
	return &TaskProcessor{campaigns: campaigns, sequences: sequences}
}

// HandleSendTask executes a campaign send delivery.
func (p *TaskProcessor) HandleSendTask(ctx context.Context, task dispatch.Task) error {
	return p.campaigns.HandleSendTask(ctx, task)
}

// HandleFollowUpTask executes a sequence step delivery.
func (p *TaskProcessor) HandleFollowUpTask(ctx context.Context, task dispatch.Task) error {
	return p.sequences.HandleFollowUpTask(ctx, task)
}

// HandleExhausted records the terminal outcome of a task whose retry budget
// is spent.
func (p *TaskProcessor) HandleExhausted(ctx context.Context, task dispatch.Task, cause error) error {
	switch task.Kind {
	case dispatch.TaskKindCampaignSend:
		return p.campaigns.HandleSendTaskExhausted(ctx, task, cause)
	case dispatch.TaskKindFollowUp:
		return p.sequences.HandleFollowUpExhausted(ctx, task, cause)
	default:
		return apperrors.NewFatal(fmt.Errorf("unknown task kind %q", task.Kind), "cannot record exhausted task")
	}
}
