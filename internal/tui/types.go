package tui

import "time"

// DutyItem is a duty as shown on the board.
type DutyItem struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Debtee     *UserItem `json:"debtee"`
	DutyStart  time.Time `json:"duty_start"`
	DutyEnd    time.Time `json:"duty_end"`
	Task1Start time.Time `json:"task1_start"`
	Task1End   time.Time `json:"task1_end"`
	Task2Start time.Time `json:"task2_start"`
	Task2End   time.Time `json:"task2_end"`
	Task3Start time.Time `json:"task3_start"`
	Task3End   time.Time `json:"task3_end"`
	Finished   bool      `json:"finished"`
	Summary    string    `json:"summary"`
}

// UserItem is a user known to the daemon.
type UserItem struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Matric string `json:"matric"`
}

// Label returns the best human handle for the user.
func (u UserItem) Label() string {
	if u.Matric != "" {
		return u.Name + " (" + u.Matric + ")"
	}
	return u.Name + " <" + u.Email + ">"
}
