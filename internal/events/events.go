// Package events publishes duty lifecycle events to interested listeners.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a duty lifecycle transition.
type Type string

const (
	TypeStarted  Type = "duty.started"
	TypeExpired  Type = "duty.expired"
	TypeRemoved  Type = "duty.removed"
	TypeFinished Type = "duty.finished"
	TypeReset    Type = "duty.reset"
)

// Event is a single lifecycle notification.
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	DutyID   string    `json:"duty_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	DebteeID string    `json:"debtee_id,omitempty"`
	At       time.Time `json:"at"`
}

// New creates an event with a fresh ID.
func New(typ Type, dutyID, userID, debteeID string, at time.Time) Event {
	return Event{
		ID:       uuid.New().String(),
		Type:     typ,
		DutyID:   dutyID,
		UserID:   userID,
		DebteeID: debteeID,
		At:       at,
	}
}

// Publisher delivers events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
