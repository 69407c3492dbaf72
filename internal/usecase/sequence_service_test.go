package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
	"github.com/autokita/wa-campaign-engine/internal/dispatch"
	"github.com/autokita/wa-campaign-engine/internal/model"
	storagemock "github.com/autokita/wa-campaign-engine/internal/storage/mock"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

type sequenceFixture struct {
	sequenceRepo *storagemock.SequenceRepoMock
	contactRepo  *storagemock.ContactRepoMock
	messageRepo  *storagemock.MessageRepoMock
	sender       *senderMock
	queue        *enqueuerMock
	clk          *clock.Mock
	svc          *SequenceService
}

func newSequenceFixture(t *testing.T) *sequenceFixture {
	t.Helper()
	f := &sequenceFixture{
		sequenceRepo: new(storagemock.SequenceRepoMock),
		contactRepo:  new(storagemock.ContactRepoMock),
		messageRepo:  new(storagemock.MessageRepoMock),
		sender:       new(senderMock),
		queue:        new(enqueuerMock),
		clk:          clock.NewMock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.svc = NewSequenceService(f.sequenceRepo, f.contactRepo, f.messageRepo, f.sender, f.queue, f.clk)
	return f
}

func activeEnrollment(step int) *model.ContactSequence {
	nextRun := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	return &model.ContactSequence{
		ID:          "cs-1",
		ContactID:   "c1",
		SequenceID:  "seq-1",
		CurrentStep: step,
		Status:      model.ContactSequenceActive,
		NextRunAt:   &nextRun,
	}
}

func TestEnroll(t *testing.T) {
	t.Run("schedules first step after its delay", func(t *testing.T) {
		f := newSequenceFixture(t)
		seq := &model.FollowUpSequence{ID: "seq-1", Name: "Onboarding", IsActive: true}
		firstStep := &model.SequenceStep{ID: "st-0", SequenceID: "seq-1", StepOrder: 0, DelayHours: 24, MessageTemplate: "Halo [Nama]"}
		contact := model.NewContact(&model.Contact{ID: "c1"})

		f.sequenceRepo.On("FindSequenceByID", mock.Anything, "seq-1").Return(seq, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 0).Return(firstStep, nil)
		f.sequenceRepo.On("SaveContactSequence", mock.Anything, mock.MatchedBy(func(cs model.ContactSequence) bool {
			return cs.ContactID == "c1" && cs.CurrentStep == 0 && cs.Status == model.ContactSequenceActive
		})).Return(nil)
		f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("dispatch.Task")).Return(nil)

		enrollment, err := f.svc.Enroll(context.Background(), "c1", "seq-1", "sales-wa")
		require.NoError(t, err)
		require.NotNil(t, enrollment.NextRunAt)
		assert.Equal(t, f.clk.Now().Add(24*time.Hour), *enrollment.NextRunAt)

		require.Len(t, f.queue.tasks, 1)
		assert.Equal(t, dispatch.TaskKindFollowUp, f.queue.tasks[0].Kind)
		assert.Equal(t, *enrollment.NextRunAt, f.queue.tasks[0].NotBefore)
	})

	t.Run("inactive sequence rejected", func(t *testing.T) {
		f := newSequenceFixture(t)
		seq := &model.FollowUpSequence{ID: "seq-1", IsActive: false}
		f.sequenceRepo.On("FindSequenceByID", mock.Anything, "seq-1").Return(seq, nil)

		_, err := f.svc.Enroll(context.Background(), "c1", "seq-1", "sales-wa")
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("sequence without steps rejected", func(t *testing.T) {
		f := newSequenceFixture(t)
		seq := &model.FollowUpSequence{ID: "seq-1", IsActive: true}
		contact := model.NewContact(&model.Contact{ID: "c1"})
		f.sequenceRepo.On("FindSequenceByID", mock.Anything, "seq-1").Return(seq, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 0).Return(nil, apperrors.ErrNotFound)

		_, err := f.svc.Enroll(context.Background(), "c1", "seq-1", "sales-wa")
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})
}

func TestHandleFollowUpTask(t *testing.T) {
	task := dispatch.Task{
		ID:                "task-1",
		Kind:              dispatch.TaskKindFollowUp,
		ContactSequenceID: "cs-1",
		Session:           "sales-wa",
	}

	t.Run("sends step and schedules the next from its delay", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(0)
		step := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 0, MessageTemplate: "Halo [Nama]"}
		nextStep := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 1, DelayHours: 48, MessageTemplate: "Masih tertarik?"}
		contact := model.NewContact(&model.Contact{ID: "c1", Name: "Budi", Phone: "628111"})

		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 0).Return(step, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sender.On("SendText", mock.Anything, "sales-wa", "628111", "Halo Budi").Return("wamid.9", nil)
		f.messageRepo.On("Save", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
			return m.Status == model.MessageStatusSent && m.ChannelMessageID == "wamid.9" && m.CampaignID == ""
		})).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, "c1", f.clk.Now()).Return(nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 1).Return(nextStep, nil)
		expectedNext := f.clk.Now().Add(48 * time.Hour)
		f.sequenceRepo.On("AdvanceContactSequence", mock.Anything, "cs-1", 0, &expectedNext).Return(true, nil)
		f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("dispatch.Task")).Return(nil)

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.NoError(t, err)
		require.Len(t, f.queue.tasks, 1)
		assert.Equal(t, expectedNext, f.queue.tasks[0].NotBefore)
		f.sequenceRepo.AssertExpectations(t)
	})

	t.Run("last step completes the enrollment", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(2)
		step := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 2, MessageTemplate: "Penawaran terakhir"}
		contact := model.NewContact(&model.Contact{ID: "c1", Phone: "628111"})

		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 2).Return(step, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sender.On("SendText", mock.Anything, "sales-wa", "628111", "Penawaran terakhir").Return("wamid.9", nil)
		f.messageRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, "c1", f.clk.Now()).Return(nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 3).Return(nil, apperrors.ErrNotFound)
		f.sequenceRepo.On("AdvanceContactSequence", mock.Anything, "cs-1", 2, (*time.Time)(nil)).Return(true, nil)
		f.sequenceRepo.On("UpdateContactSequenceStatus", mock.Anything, "cs-1", model.ContactSequenceCompleted).Return(nil)

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.NoError(t, err)
		f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("inactive enrollment is a no-op", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(1)
		enrollment.Status = model.ContactSequenceCancelled
		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.NoError(t, err)
		f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("enrollment past last step is completed without sending", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(5)
		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 5).Return(nil, apperrors.ErrNotFound)
		f.sequenceRepo.On("UpdateContactSequenceStatus", mock.Anything, "cs-1", model.ContactSequenceCompleted).Return(nil)

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.NoError(t, err)
		f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retryable send failure keeps the step", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(1)
		step := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 1, MessageTemplate: "Halo"}
		contact := model.NewContact(&model.Contact{ID: "c1", Phone: "628111"})

		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 1).Return(step, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sender.On("SendText", mock.Anything, "sales-wa", "628111", "Halo").
			Return("", apperrors.NewRetryable(errors.New("gateway 503"), "transport failed"))

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
		f.sequenceRepo.AssertNotCalled(t, "AdvanceContactSequence", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent redelivery does not schedule twice", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(0)
		step := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 0, MessageTemplate: "Halo"}
		nextStep := &model.SequenceStep{SequenceID: "seq-1", StepOrder: 1, DelayHours: 24, MessageTemplate: "Lagi"}
		contact := model.NewContact(&model.Contact{ID: "c1", Phone: "628111"})

		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 0).Return(step, nil)
		f.contactRepo.On("FindByID", mock.Anything, "c1").Return(contact, nil)
		f.sender.On("SendText", mock.Anything, "sales-wa", "628111", "Halo").Return("wamid.9", nil)
		f.messageRepo.On("Save", mock.Anything, mock.AnythingOfType("model.Message")).Return(nil)
		f.contactRepo.On("Touch", mock.Anything, "c1", f.clk.Now()).Return(nil)
		f.sequenceRepo.On("FindStep", mock.Anything, "seq-1", 1).Return(nextStep, nil)
		f.sequenceRepo.On("AdvanceContactSequence", mock.Anything, "cs-1", 0, mock.Anything).Return(false, nil)

		err := f.svc.HandleFollowUpTask(context.Background(), task)
		require.NoError(t, err)
		f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})
}

func TestHandleFollowUpExhausted(t *testing.T) {
	task := dispatch.Task{ID: "task-1", Kind: dispatch.TaskKindFollowUp, ContactSequenceID: "cs-1", Session: "sales-wa"}

	t.Run("cancels the active enrollment", func(t *testing.T) {
		f := newSequenceFixture(t)
		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(activeEnrollment(1), nil)
		f.sequenceRepo.On("UpdateContactSequenceStatus", mock.Anything, "cs-1", model.ContactSequenceCancelled).Return(nil)

		err := f.svc.HandleFollowUpExhausted(context.Background(), task, errors.New("gateway down"))
		require.NoError(t, err)
		f.sequenceRepo.AssertExpectations(t)
	})

	t.Run("already settled enrollment untouched", func(t *testing.T) {
		f := newSequenceFixture(t)
		enrollment := activeEnrollment(1)
		enrollment.Status = model.ContactSequenceCompleted
		f.sequenceRepo.On("FindContactSequenceByID", mock.Anything, "cs-1").Return(enrollment, nil)

		err := f.svc.HandleFollowUpExhausted(context.Background(), task, errors.New("gateway down"))
		require.NoError(t, err)
		f.sequenceRepo.AssertNotCalled(t, "UpdateContactSequenceStatus", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRecoverDue(t *testing.T) {
	f := newSequenceFixture(t)
	due := []model.ContactSequence{*activeEnrollment(1), *activeEnrollment(2)}
	due[1].ID = "cs-2"

	// The cutoff is pushed back by the grace window, so enrollments whose
	// NAK-delayed task may still be in flight are not re-enqueued.
	grace := 10 * time.Minute
	f.sequenceRepo.On("FindDueContactSequences", mock.Anything, f.clk.Now().Add(-grace), 100).Return(due, nil)
	f.queue.On("Enqueue", mock.Anything, mock.AnythingOfType("dispatch.Task")).Return(nil).Times(2)

	n, err := f.svc.RecoverDue(context.Background(), "sales-wa", grace, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, f.queue.tasks, 2)
	assert.Equal(t, "cs-1", f.queue.tasks[0].ContactSequenceID)
	assert.Equal(t, "cs-2", f.queue.tasks[1].ContactSequenceID)
	f.sequenceRepo.AssertExpectations(t)
}
