// Package models defines the core domain types for dutyhub.
package models

import "time"

// User is a person who can perform duties or be owed one.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Matric    string    `json:"matric"`
	CreatedAt time.Time `json:"created_at"`
}

// UserLookup selects a single user by any one of its unique keys.
// The first non-empty field wins, in the order ID, Email, Matric.
type UserLookup struct {
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Matric string `json:"matric,omitempty"`
}

// IsZero reports whether no key is set.
func (l UserLookup) IsZero() bool {
	return l.ID == "" && l.Email == "" && l.Matric == ""
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	DutyID     string    `json:"duty_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
