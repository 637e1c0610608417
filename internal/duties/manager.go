// Package duties implements the duty manager: the single coordinator that
// admits duties under a global capacity, keeps users to one active duty each,
// and lazily evicts duties whose time window has elapsed.
//
// There is no background sweeper. Expired duties stay in the active set until
// the next manager operation refreshes it.
package duties

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/dutyhub/internal/events"
	"github.com/fentz26/dutyhub/internal/models"
	"github.com/fentz26/dutyhub/internal/observability"
)

// Rejection reasons reported to metrics.
const (
	reasonMaxDutyCount   = "max_duty_count"
	reasonUnfinishedDuty = "unfinished_duty"
)

// Config defines the manager configuration.
type Config struct {
	// MaxDuty is the maximum number of simultaneously active duties.
	MaxDuty int `yaml:"max_duty"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{MaxDuty: 1}
}

// Manager owns the active duty set. All operations are serialized by one
// mutex so refresh, validation and admission happen as one step.
type Manager struct {
	repo   Repository
	config *Config

	mu        sync.Mutex
	now       func() time.Time
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewManager creates a manager over repo.
func NewManager(repo Repository, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxDuty < 1 {
		cfg.MaxDuty = 1
	}
	return &Manager{
		repo:      repo,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
		publisher: events.Nop{},
		logger:    slog.Default().With("component", "duties"),
	}
}

// SetPublisher sets where lifecycle events are sent.
func (m *Manager) SetPublisher(p events.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = events.Nop{}
	}
	m.publisher = p
}

// SetMetrics sets the instruments the manager records into.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// SetLogger sets the manager logger.
func (m *Manager) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l.With("component", "duties")
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// MaxDuty returns the configured capacity.
func (m *Manager) MaxDuty() int {
	return m.config.MaxDuty
}

// refreshLocked evicts finished duties from the active set. It returns the
// evicted duties and the ones still active. Duty records are kept.
func (m *Manager) refreshLocked(ctx context.Context, ob *outbox) (removed, active []*models.Duty, err error) {
	all, err := m.repo.ListActiveDuties(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list active duties: %w", err)
	}

	now := m.now()
	var ids []string
	for _, d := range all {
		if d.IsFinished(now) {
			removed = append(removed, d)
			ids = append(ids, d.ID)
		} else {
			active = append(active, d)
		}
	}

	if len(ids) > 0 {
		if err := m.repo.RemoveActiveDuties(ctx, ids...); err != nil {
			return nil, nil, fmt.Errorf("remove finished duties: %w", err)
		}
		m.logger.DebugContext(ctx, "evicted finished duties", "count", len(ids))
		m.metrics.DutiesExpired(ctx, len(ids))
		for _, d := range removed {
			ob.add(events.TypeExpired, d, now)
		}
	}
	m.metrics.ActiveDuties(ctx, len(active))
	return removed, active, nil
}

// outbox collects the events raised while the lock is held. They are sent
// once the lock is released, so a slow publisher never stalls other callers.
type outbox struct {
	publisher events.Publisher
	logger    *slog.Logger
	events    []events.Event
}

func (o *outbox) add(typ events.Type, d *models.Duty, at time.Time) {
	if d == nil {
		o.events = append(o.events, events.New(typ, "", "", "", at))
		return
	}
	o.events = append(o.events, events.New(typ, d.ID, d.UserID, d.DebteeID, at))
}

func (o *outbox) flush(ctx context.Context) {
	for _, e := range o.events {
		if err := o.publisher.Publish(ctx, e); err != nil {
			o.logger.WarnContext(ctx, "publish duty event failed", "type", e.Type, "error", err)
		}
	}
}

// lock acquires the manager mutex and opens an outbox for the critical section.
func (m *Manager) lock() *outbox {
	m.mu.Lock()
	return &outbox{publisher: m.publisher, logger: m.logger}
}

// unlock releases the mutex, then publishes what the critical section raised.
func (m *Manager) unlock(ctx context.Context, ob *outbox) {
	m.mu.Unlock()
	ob.flush(ctx)
}

// Refresh evicts every active duty whose end time has passed and returns them.
func (m *Manager) Refresh(ctx context.Context) ([]*models.Duty, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)
	removed, _, err := m.refreshLocked(ctx, ob)
	return removed, err
}

// RemoveFinishedDuties is Refresh under the name used by request handlers
// that sweep before doing their own work.
func (m *Manager) RemoveFinishedDuties(ctx context.Context) ([]*models.Duty, error) {
	return m.Refresh(ctx)
}

// FilterFinishedDuties returns the active duties that have finished, without
// evicting them.
func (m *Manager) FilterFinishedDuties(ctx context.Context) ([]*models.Duty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.repo.ListActiveDuties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active duties: %w", err)
	}
	now := m.now()
	var finished []*models.Duty
	for _, d := range all {
		if d.IsFinished(now) {
			finished = append(finished, d)
		}
	}
	return finished, nil
}

// StartDuty admits a new duty performed by user, optionally owed to debtee.
//
// Checks run in order: refresh, capacity, then whether user already holds an
// active duty. A failed start changes nothing.
func (m *Manager) StartDuty(ctx context.Context, user, debtee *models.User) (*models.Duty, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNoUser
	}

	ob := m.lock()
	defer m.unlock(ctx, ob)

	_, active, err := m.refreshLocked(ctx, ob)
	if err != nil {
		return nil, err
	}

	if len(active) >= m.config.MaxDuty {
		m.metrics.DutyRejected(ctx, reasonMaxDutyCount)
		return nil, ErrMaxDutyCount
	}

	for _, d := range active {
		if d.UserID == user.ID {
			m.metrics.DutyRejected(ctx, reasonUnfinishedDuty)
			return nil, &UnfinishedDutyError{DutyID: d.ID, DutyEnd: d.DutyEnd}
		}
	}

	debteeID := ""
	if debtee != nil {
		debteeID = debtee.ID
	}

	now := m.now()
	duty := models.NewDuty(user.ID, debteeID, now)
	if err := m.repo.InsertActiveDuty(ctx, duty); err != nil {
		return nil, fmt.Errorf("insert duty: %w", err)
	}

	m.logger.InfoContext(ctx, "duty started", "duty_id", duty.ID, "user_id", user.ID, "debtee_id", debteeID)
	m.metrics.DutyStarted(ctx)
	m.metrics.ActiveDuties(ctx, len(active)+1)
	ob.add(events.TypeStarted, duty, now)
	return duty, nil
}

func ownedBy(active []*models.Duty, userID string) []*models.Duty {
	var out []*models.Duty
	for _, d := range active {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}

// GetDutiesOf returns the active duties performed by the user.
func (m *Manager) GetDutiesOf(ctx context.Context, userID string) ([]*models.Duty, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	_, active, err := m.refreshLocked(ctx, ob)
	if err != nil {
		return nil, err
	}
	return ownedBy(active, userID), nil
}

// RemoveDutiesOf evicts the user's active duties without finishing or
// deleting them, and returns what was evicted.
func (m *Manager) RemoveDutiesOf(ctx context.Context, userID string) ([]*models.Duty, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	count, err := m.repo.CountDutiesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count duties: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	_, active, err := m.refreshLocked(ctx, ob)
	if err != nil {
		return nil, err
	}
	owned := ownedBy(active, userID)
	if len(owned) == 0 {
		return nil, nil
	}

	ids := make([]string, len(owned))
	for i, d := range owned {
		ids[i] = d.ID
	}
	if err := m.repo.RemoveActiveDuties(ctx, ids...); err != nil {
		return nil, fmt.Errorf("remove duties of %s: %w", userID, err)
	}

	now := m.now()
	m.logger.InfoContext(ctx, "duties removed", "user_id", userID, "count", len(ids))
	m.metrics.DutiesRemoved(ctx, len(ids))
	m.metrics.ActiveDuties(ctx, len(active)-len(ids))
	for _, d := range owned {
		ob.add(events.TypeRemoved, d, now)
	}
	return owned, nil
}

// IsOnDuty reports whether the user performs any active duty.
func (m *Manager) IsOnDuty(ctx context.Context, userID string) (bool, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	_, active, err := m.refreshLocked(ctx, ob)
	if err != nil {
		return false, err
	}
	for _, d := range active {
		if d.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// OnDutyUserIDs returns the distinct owners of active duties.
func (m *Manager) OnDutyUserIDs(ctx context.Context) ([]string, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	_, active, err := m.refreshLocked(ctx, ob)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, d := range active {
		if d.UserID == "" || seen[d.UserID] {
			continue
		}
		seen[d.UserID] = true
		ids = append(ids, d.UserID)
	}
	return ids, nil
}

// ActiveDuties returns the active set after a refresh.
func (m *Manager) ActiveDuties(ctx context.Context) ([]*models.Duty, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	_, active, err := m.refreshLocked(ctx, ob)
	return active, err
}

// AddActiveDuties puts existing duties straight into the active set. It skips
// refresh and every admission check; it is meant for administration and tests.
func (m *Manager) AddActiveDuties(ctx context.Context, duties ...*models.Duty) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(duties))
	for i, d := range duties {
		ids[i] = d.ID
	}
	if err := m.repo.AddActiveDuties(ctx, ids...); err != nil {
		return fmt.Errorf("add active duties: %w", err)
	}
	return nil
}

// ForceFinishDuty warps the duty's end to now and persists it. The duty
// leaves the active set on the next refresh.
func (m *Manager) ForceFinishDuty(ctx context.Context, dutyID string) (*models.Duty, error) {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	d, err := m.repo.GetDuty(ctx, dutyID)
	if err != nil {
		return nil, fmt.Errorf("get duty: %w", err)
	}
	if d == nil {
		return nil, ErrDutyNotFound
	}

	now := m.now()
	if d.IsFinished(now) {
		return d, nil
	}
	d.ForceFinish(now)
	if err := m.repo.UpdateDutyTimes(ctx, d); err != nil {
		return nil, fmt.Errorf("update duty times: %w", err)
	}

	m.logger.InfoContext(ctx, "duty force finished", "duty_id", d.ID, "user_id", d.UserID)
	ob.add(events.TypeFinished, d, now)
	return d, nil
}

// Reset empties the active set unconditionally.
func (m *Manager) Reset(ctx context.Context) error {
	ob := m.lock()
	defer m.unlock(ctx, ob)

	active, err := m.repo.ListActiveDuties(ctx)
	if err != nil {
		return fmt.Errorf("list active duties: %w", err)
	}
	if err := m.repo.ClearActiveDuties(ctx); err != nil {
		return fmt.Errorf("clear active duties: %w", err)
	}

	m.logger.InfoContext(ctx, "active duties reset", "count", len(active))
	m.metrics.DutiesRemoved(ctx, len(active))
	m.metrics.ActiveDuties(ctx, 0)
	ob.add(events.TypeReset, nil, m.now())
	return nil
}
