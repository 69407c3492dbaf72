package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies what a queued task should do when a worker picks it up.
type TaskKind string

const (
	// TaskKindCampaignSend delivers one campaign message to one contact.
	TaskKindCampaignSend TaskKind = "campaign_send"
	// TaskKindFollowUp executes the current step of a contact's follow-up
	// sequence enrollment.
	TaskKindFollowUp TaskKind = "follow_up"
)

// Task is the envelope published to the dispatch stream. One task covers one
// recipient; campaign fan-out happens at enqueue time, not in the worker.
type Task struct {
	ID                string    `json:"id"`
	Kind              TaskKind  `json:"kind"`
	CampaignID        string    `json:"campaign_id,omitempty"`
	ContactID         string    `json:"contact_id,omitempty"`
	MessageID         string    `json:"message_id,omitempty"`
	ContactSequenceID string    `json:"contact_sequence_id,omitempty"`
	Session           string    `json:"session"`
	// NotBefore spaces campaign sends out; a worker that receives the task
	// early NAKs it back with a delay instead of processing it.
	NotBefore  time.Time `json:"not_before,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewSendTask builds a campaign send task for one recipient.
func NewSendTask(campaignID, contactID, messageID, session string, notBefore, enqueuedAt time.Time) Task {
	return Task{
		ID:         uuid.New().String(),
		Kind:       TaskKindCampaignSend,
		CampaignID: campaignID,
		ContactID:  contactID,
		MessageID:  messageID,
		Session:    session,
		NotBefore:  notBefore,
		EnqueuedAt: enqueuedAt,
	}
}

// NewFollowUpTask builds a follow-up step task for one enrollment.
func NewFollowUpTask(contactSequenceID, session string, notBefore, enqueuedAt time.Time) Task {
	return Task{
		ID:                uuid.New().String(),
		Kind:              TaskKindFollowUp,
		ContactSequenceID: contactSequenceID,
		Session:           session,
		NotBefore:         notBefore,
		EnqueuedAt:        enqueuedAt,
	}
}

// Validate checks the envelope is routable before it is published or
// processed.
func (t Task) Validate() error {
	switch t.Kind {
	case TaskKindCampaignSend:
		if t.CampaignID == "" || t.ContactID == "" || t.MessageID == "" {
			return fmt.Errorf("campaign send task requires campaign_id, contact_id and message_id")
		}
	case TaskKindFollowUp:
		if t.ContactSequenceID == "" {
			return fmt.Errorf("follow-up task requires contact_sequence_id")
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if t.Session == "" {
		return fmt.Errorf("task requires a session")
	}
	return nil
}

// Marshal serializes the task for publishing.
func (t Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask parses a task envelope from the wire.
func UnmarshalTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return t, nil
}
