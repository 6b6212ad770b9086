// Package notify delivers moderation messages to indexers and approvers.
// Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

type Event string

const (
	EventSubmitted       Event = "submitted"
	EventResubmitted     Event = "resubmitted"
	EventDiscarded       Event = "discarded"
	EventApproved        Event = "approved"
	EventDisapproved     Event = "disapproved"
	EventExpired         Event = "expired"
	EventOngoingDenied   Event = "ongoing_denied"
	EventAutoReserved    Event = "auto_reserved"
	EventAutoReserveFail Event = "auto_reserve_failed"
)

// Message is one notification. A zero UserID addresses the pending queue
// rather than a single person.
type Message struct {
	ID          string    `json:"id"`
	Event       Event     `json:"event"`
	UserID      int64     `json:"user_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	ChangesetID int64     `json:"changeset_id,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Stamp fills in the id and timestamp of a message that has none.
func Stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}

// Multi fans a message out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) error {
	msg = Stamp(msg)
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes messages to the standard logger.
type Log struct{}

func (Log) Send(_ context.Context, msg Message) error {
	log.Printf("notify: %s changeset=%d user=%d %s", msg.Event, msg.ChangesetID, msg.UserID, msg.Subject)
	return nil
}

// Recorder keeps messages in memory.
type Recorder struct {
	Messages []Message
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.Messages = append(r.Messages, Stamp(msg))
	return nil
}

// Events lists the recorded events addressed to userID.
func (r *Recorder) Events(userID int64) []Event {
	var out []Event
	for _, msg := range r.Messages {
		if msg.UserID == userID {
			out = append(out, msg.Event)
		}
	}
	return out
}
