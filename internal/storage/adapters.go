package storage

import (
	"context"
	"time"

	"github.com/autokita/wa-campaign-engine/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

func (a *ContactRepoAdapter) Save(ctx context.Context, contact model.Contact) error {
	return a.postgres.SaveContact(ctx, contact)
}

func (a *ContactRepoAdapter) Update(ctx context.Context, contact model.Contact) error {
	return a.postgres.UpdateContact(ctx, contact)
}

func (a *ContactRepoAdapter) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

func (a *ContactRepoAdapter) FindAll(ctx context.Context) ([]model.Contact, error) {
	return a.postgres.FindAllContacts(ctx)
}

func (a *ContactRepoAdapter) FindByIDs(ctx context.Context, ids []string) ([]model.Contact, error) {
	return a.postgres.FindContactsByIDs(ctx, ids)
}

func (a *ContactRepoAdapter) Touch(ctx context.Context, id string, at time.Time) error {
	return a.postgres.TouchContact(ctx, id, at)
}

func (a *ContactRepoAdapter) SoftDelete(ctx context.Context, id string) error {
	return a.postgres.SoftDeleteContact(ctx, id)
}

func (a *ContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// SegmentRepoAdapter adapts the PostgresRepo to the SegmentRepo interface
type SegmentRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSegmentRepoAdapter creates a new segment repository adapter
func NewSegmentRepoAdapter(postgres *PostgresRepo) SegmentRepo {
	return &SegmentRepoAdapter{postgres: postgres}
}

func (a *SegmentRepoAdapter) Save(ctx context.Context, segment model.Segment) error {
	return a.postgres.SaveSegment(ctx, segment)
}

func (a *SegmentRepoAdapter) Update(ctx context.Context, segment model.Segment) error {
	return a.postgres.UpdateSegment(ctx, segment)
}

func (a *SegmentRepoAdapter) FindByID(ctx context.Context, id string) (*model.Segment, error) {
	return a.postgres.FindSegmentByID(ctx, id)
}

func (a *SegmentRepoAdapter) ReplaceMembers(ctx context.Context, segmentID string, contactIDs []string) error {
	return a.postgres.ReplaceSegmentMembers(ctx, segmentID, contactIDs)
}

func (a *SegmentRepoAdapter) MemberIDs(ctx context.Context, segmentID string) ([]string, error) {
	return a.postgres.SegmentMemberIDs(ctx, segmentID)
}

func (a *SegmentRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// CampaignRepoAdapter adapts the PostgresRepo to the CampaignRepo interface
type CampaignRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCampaignRepoAdapter creates a new campaign repository adapter
func NewCampaignRepoAdapter(postgres *PostgresRepo) CampaignRepo {
	return &CampaignRepoAdapter{postgres: postgres}
}

func (a *CampaignRepoAdapter) Save(ctx context.Context, campaign model.Campaign) error {
	return a.postgres.SaveCampaign(ctx, campaign)
}

func (a *CampaignRepoAdapter) Update(ctx context.Context, campaign model.Campaign) error {
	return a.postgres.UpdateCampaign(ctx, campaign)
}

func (a *CampaignRepoAdapter) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	return a.postgres.FindCampaignByID(ctx, id)
}

func (a *CampaignRepoAdapter) FindByStatus(ctx context.Context, status string) ([]model.Campaign, error) {
	return a.postgres.FindCampaignsByStatus(ctx, status)
}

func (a *CampaignRepoAdapter) FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	return a.postgres.FindDueScheduledCampaigns(ctx, now)
}

func (a *CampaignRepoAdapter) UpdateStatus(ctx context.Context, id, status string) error {
	return a.postgres.UpdateCampaignStatus(ctx, id, status)
}

func (a *CampaignRepoAdapter) IncrementCounter(ctx context.Context, id, counter string) error {
	return a.postgres.IncrementCampaignCounter(ctx, id, counter)
}

func (a *CampaignRepoAdapter) CompleteIfDone(ctx context.Context, id string, at time.Time) (bool, error) {
	return a.postgres.CompleteCampaignIfDone(ctx, id, at)
}

func (a *CampaignRepoAdapter) Delete(ctx context.Context, id string) error {
	return a.postgres.DeleteCampaign(ctx, id)
}

func (a *CampaignRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

func (a *MessageRepoAdapter) Save(ctx context.Context, message model.Message) error {
	return a.postgres.SaveMessage(ctx, message)
}

func (a *MessageRepoAdapter) Update(ctx context.Context, message model.Message) error {
	return a.postgres.UpdateMessage(ctx, message)
}

func (a *MessageRepoAdapter) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return a.postgres.FindMessageByID(ctx, id)
}

func (a *MessageRepoAdapter) FindByChannelMessageID(ctx context.Context, channelMessageID string) (*model.Message, error) {
	return a.postgres.FindMessageByChannelMessageID(ctx, channelMessageID)
}

func (a *MessageRepoAdapter) FindByCampaignAndStatus(ctx context.Context, campaignID, status string) ([]model.Message, error) {
	return a.postgres.FindMessagesByCampaignAndStatus(ctx, campaignID, status)
}

func (a *MessageRepoAdapter) TransitionStatus(ctx context.Context, messageID, toStatus string, allowedFrom []string, stampColumn string, at time.Time) (bool, error) {
	return a.postgres.TransitionMessageStatus(ctx, messageID, toStatus, allowedFrom, stampColumn, at)
}

func (a *MessageRepoAdapter) MarkSent(ctx context.Context, messageID, channelMessageID string, at time.Time) (bool, error) {
	return a.postgres.MarkMessageSent(ctx, messageID, channelMessageID, at)
}

func (a *MessageRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// SequenceRepoAdapter adapts the PostgresRepo to the SequenceRepo interface
type SequenceRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSequenceRepoAdapter creates a new sequence repository adapter
func NewSequenceRepoAdapter(postgres *PostgresRepo) SequenceRepo {
	return &SequenceRepoAdapter{postgres: postgres}
}

func (a *SequenceRepoAdapter) SaveSequence(ctx context.Context, seq model.FollowUpSequence) error {
	return a.postgres.SaveFollowUpSequence(ctx, seq)
}

func (a *SequenceRepoAdapter) FindSequenceByID(ctx context.Context, id string) (*model.FollowUpSequence, error) {
	return a.postgres.FindFollowUpSequenceByID(ctx, id)
}

func (a *SequenceRepoAdapter) SaveStep(ctx context.Context, step model.SequenceStep) error {
	return a.postgres.SaveSequenceStep(ctx, step)
}

func (a *SequenceRepoAdapter) FindStep(ctx context.Context, sequenceID string, order int) (*model.SequenceStep, error) {
	return a.postgres.FindSequenceStep(ctx, sequenceID, order)
}

func (a *SequenceRepoAdapter) SaveContactSequence(ctx context.Context, cs model.ContactSequence) error {
	return a.postgres.SaveContactSequence(ctx, cs)
}

func (a *SequenceRepoAdapter) FindContactSequenceByID(ctx context.Context, id string) (*model.ContactSequence, error) {
	return a.postgres.FindContactSequenceByID(ctx, id)
}

func (a *SequenceRepoAdapter) FindDueContactSequences(ctx context.Context, now time.Time, limit int) ([]model.ContactSequence, error) {
	return a.postgres.FindDueContactSequences(ctx, now, limit)
}

func (a *SequenceRepoAdapter) AdvanceContactSequence(ctx context.Context, id string, fromStep int, nextRunAt *time.Time) (bool, error) {
	return a.postgres.AdvanceContactSequence(ctx, id, fromStep, nextRunAt)
}

func (a *SequenceRepoAdapter) UpdateContactSequenceStatus(ctx context.Context, id, status string) error {
	return a.postgres.UpdateContactSequenceStatus(ctx, id, status)
}

func (a *SequenceRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// SessionRepoAdapter adapts the PostgresRepo to the SessionRepo interface
type SessionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewSessionRepoAdapter creates a new session repository adapter
func NewSessionRepoAdapter(postgres *PostgresRepo) SessionRepo {
	return &SessionRepoAdapter{postgres: postgres}
}

func (a *SessionRepoAdapter) Upsert(ctx context.Context, session model.ChannelSession) error {
	return a.postgres.UpsertChannelSession(ctx, session)
}

func (a *SessionRepoAdapter) FindByName(ctx context.Context, sessionName string) (*model.ChannelSession, error) {
	return a.postgres.FindChannelSessionByName(ctx, sessionName)
}

func (a *SessionRepoAdapter) UpdateStatus(ctx context.Context, sessionName, status string, seenAt time.Time) error {
	return a.postgres.UpdateChannelSessionStatus(ctx, sessionName, status, seenAt)
}

func (a *SessionRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}
