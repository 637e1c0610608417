package duties

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fentz26/dutyhub/internal/models"
)

// MemoryRepository implements Repository in memory.
// Thread-safe via RWMutex; values are copied in and out.
type MemoryRepository struct {
	mu     sync.RWMutex
	duties map[string]*models.Duty
	active map[string]struct{}
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		duties: make(map[string]*models.Duty),
		active: make(map[string]struct{}),
	}
}

func (r *MemoryRepository) CreateDuty(ctx context.Context, d *models.Duty) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.duties[d.ID]; ok {
		return fmt.Errorf("duty %s already exists", d.ID)
	}
	val := *d
	r.duties[d.ID] = &val
	return nil
}

func (r *MemoryRepository) InsertActiveDuty(ctx context.Context, d *models.Duty) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.duties[d.ID]; ok {
		return fmt.Errorf("duty %s already exists", d.ID)
	}
	val := *d
	r.duties[d.ID] = &val
	r.active[d.ID] = struct{}{}
	return nil
}

func (r *MemoryRepository) GetDuty(ctx context.Context, id string) (*models.Duty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.duties[id]; ok {
		val := *d
		return &val, nil
	}
	return nil, nil
}

func (r *MemoryRepository) UpdateDutyTimes(ctx context.Context, d *models.Duty) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.duties[d.ID]
	if !ok {
		return ErrDutyNotFound
	}
	stored.DutyEnd = d.DutyEnd
	stored.Task1End = d.Task1End
	stored.Task2End = d.Task2End
	stored.Task3End = d.Task3End
	return nil
}

func (r *MemoryRepository) CountDutiesByUser(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.duties {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListActiveDuties(ctx context.Context) ([]*models.Duty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Duty, 0, len(r.active))
	for id := range r.active {
		val := *r.duties[id]
		out = append(out, &val)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DutyStart.Equal(out[j].DutyStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].DutyStart.Before(out[j].DutyStart)
	})
	return out, nil
}

func (r *MemoryRepository) AddActiveDuties(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.duties[id]; !ok {
			return fmt.Errorf("add active duty %s: %w", id, ErrDutyNotFound)
		}
	}
	for _, id := range ids {
		r.active[id] = struct{}{}
	}
	return nil
}

func (r *MemoryRepository) RemoveActiveDuties(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.active, id)
	}
	return nil
}

func (r *MemoryRepository) ClearActiveDuties(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]struct{})
	return nil
}

// DeleteDuty removes the duty record and its active membership.
func (r *MemoryRepository) DeleteDuty(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.duties, id)
	delete(r.active, id)
	return nil
}
