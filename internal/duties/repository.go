package duties

import (
	"context"

	"github.com/fentz26/dutyhub/internal/models"
)

// Repository is the persistence the Manager relies on. The active set is the
// durable membership of duties in the single manager record; every Manager
// built over the same Repository sees the same active set.
//
// Lookups of a missing duty return nil, nil.
type Repository interface {
	// CreateDuty stores a duty without making it active.
	CreateDuty(ctx context.Context, d *models.Duty) error
	// InsertActiveDuty stores a duty and adds it to the active set atomically.
	InsertActiveDuty(ctx context.Context, d *models.Duty) error
	GetDuty(ctx context.Context, id string) (*models.Duty, error)
	// UpdateDutyTimes persists the duty and task end times of d.
	UpdateDutyTimes(ctx context.Context, d *models.Duty) error
	// CountDutiesByUser counts every duty the user ever owned, active or not.
	CountDutiesByUser(ctx context.Context, userID string) (int, error)

	ListActiveDuties(ctx context.Context) ([]*models.Duty, error)
	AddActiveDuties(ctx context.Context, ids ...string) error
	RemoveActiveDuties(ctx context.Context, ids ...string) error
	ClearActiveDuties(ctx context.Context) error
}
