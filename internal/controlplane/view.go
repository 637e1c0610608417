package controlplane

import (
	"time"

	"github.com/fentz26/dutyhub/internal/models"
)

// DutyView is the wire form of a duty, with the debtee expanded.
type DutyView struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Debtee     *models.User `json:"debtee"`
	DutyStart  time.Time    `json:"duty_start"`
	DutyEnd    time.Time    `json:"duty_end"`
	Task1Start time.Time    `json:"task1_start"`
	Task1End   time.Time    `json:"task1_end"`
	Task2Start time.Time    `json:"task2_start"`
	Task2End   time.Time    `json:"task2_end"`
	Task3Start time.Time    `json:"task3_start"`
	Task3End   time.Time    `json:"task3_end"`
	LastActive time.Time    `json:"last_active"`
	Finished   bool         `json:"finished"`
	Summary    string       `json:"summary"`
}

func newDutyView(d *models.Duty, owner, debtee *models.User, now time.Time) DutyView {
	return DutyView{
		ID:         d.ID,
		UserID:     d.UserID,
		Debtee:     debtee,
		DutyStart:  d.DutyStart,
		DutyEnd:    d.DutyEnd,
		Task1Start: d.Task1Start,
		Task1End:   d.Task1End,
		Task2Start: d.Task2Start,
		Task2End:   d.Task2End,
		Task3Start: d.Task3Start,
		Task3End:   d.Task3End,
		LastActive: d.LastActive,
		Finished:   d.IsFinished(now),
		Summary:    d.Summary(owner, now),
	}
}

// UserDetail is a user with counts of the duties they performed and are owed.
type UserDetail struct {
	models.User
	DutiesOwned int  `json:"duties_owned"`
	DutiesOwed  int  `json:"duties_owed"`
	OnDuty      bool `json:"on_duty"`
}

// Page names for the duty page selector.
const (
	PageOnDuty     = "onduty"
	PageGetStarted = "getstarted"
)
