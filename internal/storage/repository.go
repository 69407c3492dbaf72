package storage

import (
	"context"
	"time"

	"github.com/autokita/wa-campaign-engine/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Save(ctx context.Context, contact model.Contact) error
	Update(ctx context.Context, contact model.Contact) error
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
	// FindAll returns every non-deleted contact; the audience resolver
	// evaluates criteria over this set.
	FindAll(ctx context.Context) ([]model.Contact, error)
	// FindByIDs loads the given contacts, skipping ids that no longer exist.
	FindByIDs(ctx context.Context, ids []string) ([]model.Contact, error)
	// Touch bumps the contact's updated_at, used as the last-contact marker.
	Touch(ctx context.Context, id string, at time.Time) error
	SoftDelete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// SegmentRepo defines segment storage operations
type SegmentRepo interface {
	Save(ctx context.Context, segment model.Segment) error
	Update(ctx context.Context, segment model.Segment) error
	FindByID(ctx context.Context, id string) (*model.Segment, error)
	// ReplaceMembers atomically swaps the segment's membership cache for the
	// given contact set and stores the new contact_count.
	ReplaceMembers(ctx context.Context, segmentID string, contactIDs []string) error
	MemberIDs(ctx context.Context, segmentID string) ([]string, error)
	Close(ctx context.Context) error
}

// CampaignRepo defines campaign storage operations
type CampaignRepo interface {
	Save(ctx context.Context, campaign model.Campaign) error
	Update(ctx context.Context, campaign model.Campaign) error
	FindByID(ctx context.Context, id string) (*model.Campaign, error)
	FindByStatus(ctx context.Context, status string) ([]model.Campaign, error)
	// FindDueScheduled returns scheduled campaigns whose run time has passed.
	FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// IncrementCounter atomically bumps one of the monotonic campaign
	// counters (sent_count, delivered_count, read_count, failed_count).
	IncrementCounter(ctx context.Context, id, counter string) error
	// CompleteIfDone transitions a running campaign to completed when
	// sent_count + failed_count has reached total_recipients. Returns true
	// only for the invocation that performed the transition, so concurrent
	// finishing tasks cannot double-complete.
	CompleteIfDone(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	Save(ctx context.Context, message model.Message) error
	Update(ctx context.Context, message model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByChannelMessageID(ctx context.Context, channelMessageID string) (*model.Message, error)
	// FindByCampaignAndStatus lists a campaign's messages in one status,
	// used by resume to re-enqueue pending sends.
	FindByCampaignAndStatus(ctx context.Context, campaignID, status string) ([]model.Message, error)
	// TransitionStatus moves a message to toStatus only when its current
	// status is one of allowedFrom, optionally stamping a timestamp column.
	// Returns whether the transition was applied; a false result means the
	// message had already moved past toStatus and the caller must treat the
	// event as a duplicate.
	TransitionStatus(ctx context.Context, messageID, toStatus string, allowedFrom []string, stampColumn string, at time.Time) (bool, error)
	// MarkSent records a successful send in one guarded write: status sent,
	// sent_at stamped and the gateway's message id stored together, so an ack
	// arriving right after the send can always resolve the row by channel id.
	MarkSent(ctx context.Context, messageID, channelMessageID string, at time.Time) (bool, error)
	Close(ctx context.Context) error
}

// SequenceRepo defines follow-up sequence storage operations
type SequenceRepo interface {
	SaveSequence(ctx context.Context, seq model.FollowUpSequence) error
	FindSequenceByID(ctx context.Context, id string) (*model.FollowUpSequence, error)
	SaveStep(ctx context.Context, step model.SequenceStep) error
	// FindStep returns the step at the given order, or ErrNotFound past the
	// last step.
	FindStep(ctx context.Context, sequenceID string, order int) (*model.SequenceStep, error)
	SaveContactSequence(ctx context.Context, cs model.ContactSequence) error
	FindContactSequenceByID(ctx context.Context, id string) (*model.ContactSequence, error)
	// FindDueContactSequences lists active enrollments whose next_run_at has
	// passed, the scheduler's recovery path after restarts.
	FindDueContactSequences(ctx context.Context, now time.Time, limit int) ([]model.ContactSequence, error)
	// AdvanceContactSequence bumps current_step from fromStep to fromStep+1
	// and records the next run time. The guard on fromStep keeps the step
	// index monotonic under concurrent retries; returns whether applied.
	AdvanceContactSequence(ctx context.Context, id string, fromStep int, nextRunAt *time.Time) (bool, error)
	UpdateContactSequenceStatus(ctx context.Context, id, status string) error
	Close(ctx context.Context) error
}

// SessionRepo defines channel session storage operations
type SessionRepo interface {
	Upsert(ctx context.Context, session model.ChannelSession) error
	FindByName(ctx context.Context, sessionName string) (*model.ChannelSession, error)
	// UpdateStatus records a session-status event: lowercased status plus
	// the last-seen timestamp.
	UpdateStatus(ctx context.Context, sessionName, status string, seenAt time.Time) error
	Close(ctx context.Context) error
}
