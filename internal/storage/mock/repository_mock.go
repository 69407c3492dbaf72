package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/autokita/wa-campaign-engine/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

func (m *ContactRepoMock) Save(ctx context.Context, contact model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *ContactRepoMock) Update(ctx context.Context, contact model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *ContactRepoMock) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindAll(ctx context.Context) ([]model.Contact, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindByIDs(ctx context.Context, ids []string) ([]model.Contact, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

func (m *ContactRepoMock) Touch(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *ContactRepoMock) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SegmentRepo Mock ---

// SegmentRepoMock mocks the SegmentRepo interface
type SegmentRepoMock struct {
	mock.Mock
}

func (m *SegmentRepoMock) Save(ctx context.Context, segment model.Segment) error {
	args := m.Called(ctx, segment)
	return args.Error(0)
}

func (m *SegmentRepoMock) Update(ctx context.Context, segment model.Segment) error {
	args := m.Called(ctx, segment)
	return args.Error(0)
}

func (m *SegmentRepoMock) FindByID(ctx context.Context, id string) (*model.Segment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Segment), args.Error(1)
}

func (m *SegmentRepoMock) ReplaceMembers(ctx context.Context, segmentID string, contactIDs []string) error {
	args := m.Called(ctx, segmentID, contactIDs)
	return args.Error(0)
}

func (m *SegmentRepoMock) MemberIDs(ctx context.Context, segmentID string) ([]string, error) {
	args := m.Called(ctx, segmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *SegmentRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- CampaignRepo Mock ---

// CampaignRepoMock mocks the CampaignRepo interface
type CampaignRepoMock struct {
	mock.Mock
}

func (m *CampaignRepoMock) Save(ctx context.Context, campaign model.Campaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *CampaignRepoMock) Update(ctx context.Context, campaign model.Campaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *CampaignRepoMock) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) FindByStatus(ctx context.Context, status string) ([]model.Campaign, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) UpdateStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *CampaignRepoMock) IncrementCounter(ctx context.Context, id, counter string) error {
	args := m.Called(ctx, id, counter)
	return args.Error(0)
}

func (m *CampaignRepoMock) CompleteIfDone(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *CampaignRepoMock) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *CampaignRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) Save(ctx context.Context, message model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) Update(ctx context.Context, message model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) FindByChannelMessageID(ctx context.Context, channelMessageID string) (*model.Message, error) {
	args := m.Called(ctx, channelMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) FindByCampaignAndStatus(ctx context.Context, campaignID, status string) ([]model.Message, error) {
	args := m.Called(ctx, campaignID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MessageRepoMock) TransitionStatus(ctx context.Context, messageID, toStatus string, allowedFrom []string, stampColumn string, at time.Time) (bool, error) {
	args := m.Called(ctx, messageID, toStatus, allowedFrom, stampColumn, at)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepoMock) MarkSent(ctx context.Context, messageID, channelMessageID string, at time.Time) (bool, error) {
	args := m.Called(ctx, messageID, channelMessageID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SequenceRepo Mock ---

// SequenceRepoMock mocks the SequenceRepo interface
type SequenceRepoMock struct {
	mock.Mock
}

func (m *SequenceRepoMock) SaveSequence(ctx context.Context, seq model.FollowUpSequence) error {
	args := m.Called(ctx, seq)
	return args.Error(0)
}

func (m *SequenceRepoMock) FindSequenceByID(ctx context.Context, id string) (*model.FollowUpSequence, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FollowUpSequence), args.Error(1)
}

func (m *SequenceRepoMock) SaveStep(ctx context.Context, step model.SequenceStep) error {
	args := m.Called(ctx, step)
	return args.Error(0)
}

func (m *SequenceRepoMock) FindStep(ctx context.Context, sequenceID string, order int) (*model.SequenceStep, error) {
	args := m.Called(ctx, sequenceID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SequenceStep), args.Error(1)
}

func (m *SequenceRepoMock) SaveContactSequence(ctx context.Context, cs model.ContactSequence) error {
	args := m.Called(ctx, cs)
	return args.Error(0)
}

func (m *SequenceRepoMock) FindContactSequenceByID(ctx context.Context, id string) (*model.ContactSequence, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactSequence), args.Error(1)
}

func (m *SequenceRepoMock) FindDueContactSequences(ctx context.Context, now time.Time, limit int) ([]model.ContactSequence, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ContactSequence), args.Error(1)
}

func (m *SequenceRepoMock) AdvanceContactSequence(ctx context.Context, id string, fromStep int, nextRunAt *time.Time) (bool, error) {
	args := m.Called(ctx, id, fromStep, nextRunAt)
	return args.Bool(0), args.Error(1)
}

func (m *SequenceRepoMock) UpdateContactSequenceStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *SequenceRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SessionRepo Mock ---

// SessionRepoMock mocks the SessionRepo interface
type SessionRepoMock struct {
	mock.Mock
}

func (m *SessionRepoMock) Upsert(ctx context.Context, session model.ChannelSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepoMock) FindByName(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	args := m.Called(ctx, sessionName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChannelSession), args.Error(1)
}

func (m *SessionRepoMock) UpdateStatus(ctx context.Context, sessionName, status string, seenAt time.Time) error {
	args := m.Called(ctx, sessionName, status, seenAt)
	return args.Error(0)
}

func (m *SessionRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
