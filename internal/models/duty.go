package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Duty timing, measured from duty start.
const (
	TaskWindow   = 30 * time.Minute
	Task1Mark    = 30 * time.Minute
	Task2Mark    = 90 * time.Minute
	Task3Mark    = 150 * time.Minute
	DutyDuration = 180 * time.Minute
)

const summaryTimeLayout = "02 Jan 2006, 15:04:05"

// Duty is a single shift with three task windows inside it.
// UserID and DebteeID are empty when the relationship is absent.
type Duty struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	DebteeID   string    `json:"debtee_id,omitempty"`
	DutyStart  time.Time `json:"duty_start"`
	DutyEnd    time.Time `json:"duty_end"`
	Task1Start time.Time `json:"task1_start"`
	Task1End   time.Time `json:"task1_end"`
	Task2Start time.Time `json:"task2_start"`
	Task2End   time.Time `json:"task2_end"`
	Task3Start time.Time `json:"task3_start"`
	Task3End   time.Time `json:"task3_end"`
	LastActive time.Time `json:"last_active"`
}

// TaskWindow is one sub-task slot of a duty.
type TaskWindow struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDuty builds a duty starting at now with every timing field derived from it.
func NewDuty(userID, debteeID string, now time.Time) *Duty {
	d := &Duty{
		ID:         uuid.New().String(),
		UserID:     userID,
		DebteeID:   debteeID,
		DutyStart:  now,
		DutyEnd:    now.Add(DutyDuration),
		Task1Start: now.Add(Task1Mark),
		Task2Start: now.Add(Task2Mark),
		Task3Start: now.Add(Task3Mark),
		LastActive: now,
	}
	d.Task1End = d.Task1Start.Add(TaskWindow)
	d.Task2End = d.Task2Start.Add(TaskWindow)
	d.Task3End = d.Task3Start.Add(TaskWindow)
	return d
}

// IsFinished reports whether the duty end has been reached at now.
func (d *Duty) IsFinished(now time.Time) bool {
	return !d.DutyEnd.After(now)
}

// ForceFinish warps the duty end back to now. A finished duty is left alone,
// so calling it again has no effect.
func (d *Duty) ForceFinish(now time.Time) {
	if d.IsFinished(now) {
		return
	}
	d.UpdateDutyEnd(now)
}

// UpdateDutyEnd moves the duty end to end. Task ends earlier than the new
// duty end are pulled forward to it.
func (d *Duty) UpdateDutyEnd(end time.Time) {
	if d.Task1End.Before(end) {
		d.Task1End = end
	}
	if d.Task2End.Before(end) {
		d.Task2End = end
	}
	if d.Task3End.Before(end) {
		d.Task3End = end
	}
	d.DutyEnd = end
}

// Tasks returns the three task windows in order.
func (d *Duty) Tasks() []TaskWindow {
	return []TaskWindow{
		{Index: 1, Start: d.Task1Start, End: d.Task1End},
		{Index: 2, Start: d.Task2Start, End: d.Task2End},
		{Index: 3, Start: d.Task3Start, End: d.Task3End},
	}
}

// HasOwner reports whether the duty is linked to a performing user.
func (d *Duty) HasOwner() bool {
	return d.UserID != ""
}

// Summary renders a one-line, human readable status of the duty.
// owner may be nil; a duty without an owner is reported as a zombie.
func (d *Duty) Summary(owner *User, now time.Time) string {
	start := d.DutyStart.Format(summaryTimeLayout)
	end := d.DutyEnd.Format(summaryTimeLayout)

	if !d.HasOwner() || owner == nil {
		return fmt.Sprintf("Zombie duty from |%s| to |%s|", start, end)
	}
	if d.IsFinished(now) {
		return fmt.Sprintf("Past duty from |%s| to |%s| by %s", start, end, owner.Name)
	}
	return fmt.Sprintf("Active duty from |%s| to |%s| by %s", start, end, owner.Name)
}
