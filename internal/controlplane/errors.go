package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrUnauthenticated = errors.New("caller identity required")
	ErrUserNotFound    = errors.New("user not found")
	ErrDutyNotFound    = errors.New("duty not found")
	ErrSelfDebtee      = errors.New("cannot specify yourself as in-debt friend, do you mistype friend matric no. with yours?")
	ErrNotOwner        = errors.New("not the duty owner")
	ErrNotAdmin        = errors.New("admin privileges required")
	ErrNotOnDuty       = errors.New("user's duty is not registered in manager")
	ErrInvalidUser     = errors.New("email and name are required")
)
