package duties

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for duty manager operations.
var (
	ErrMaxDutyCount   = errors.New("maximum duty count handled by manager is reached, cannot add more duty")
	ErrUnfinishedDuty = errors.New("ongoing duty has not reached its end time")
	ErrDutyNotFound   = errors.New("duty not found")
	ErrNoUser         = errors.New("a duty needs a user to perform it")
)

const dutyEndLayout = "02 Jan 2006, 15:04:05"

// UnfinishedDutyError is returned when a user asks for a new duty while still
// holding one. It matches ErrUnfinishedDuty with errors.Is.
type UnfinishedDutyError struct {
	DutyID  string
	DutyEnd time.Time
}

func (e *UnfinishedDutyError) Error() string {
	end := "|UNKNOWN|"
	if !e.DutyEnd.IsZero() {
		end = fmt.Sprintf("|%s|", e.DutyEnd.Format(dutyEndLayout))
	}
	return fmt.Sprintf("ongoing duty hasn't reached the duty end time, either wait for duty to finish at %s or force clear", end)
}

// Is lets errors.Is(err, ErrUnfinishedDuty) match.
func (e *UnfinishedDutyError) Is(target error) bool {
	return target == ErrUnfinishedDuty
}
