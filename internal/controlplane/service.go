// Package controlplane provides the HTTP API and service layer for dutyhub.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fentz26/dutyhub/internal/audit"
	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/models"
	"github.com/fentz26/dutyhub/internal/observability"
	"github.com/fentz26/dutyhub/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store   *store.Store
	manager *duties.Manager
	pdr     *audit.PDRWriter
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new control plane service.
func NewService(s *store.Store, m *duties.Manager, pdr *audit.PDRWriter) *Service {
	return &Service{
		store:   s,
		manager: m,
		pdr:     pdr,
		tracer:  otel.Tracer(observability.InstrumentationName),
		logger:  slog.Default().With("component", "controlplane"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the service logger.
func (s *Service) SetLogger(l *slog.Logger) {
	s.logger = l.With("component", "controlplane")
}

// SetClock replaces the time source of the service and its manager.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.manager.SetClock(now)
}

// MaxDuty returns the manager capacity.
func (s *Service) MaxDuty() int {
	return s.manager.MaxDuty()
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "controlplane."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) record(ctx context.Context, action string, inputs any, outcome, dutyID, details string) {
	if _, err := s.pdr.Record(ctx, action, inputs, outcome, dutyID, details); err != nil {
		s.logger.WarnContext(ctx, "write pdr failed", "action", action, "error", err)
	}
}

// --- User Operations ---

// CreateUser registers a user.
func (s *Service) CreateUser(ctx context.Context, email, name, matric string) (user *models.User, err error) {
	ctx, span := s.startSpan(ctx, "CreateUser")
	defer func() { endSpan(span, err) }()

	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return nil, ErrInvalidUser
	}

	user, err = s.store.CreateUser(ctx, email, name, strings.TrimSpace(matric))
	if err != nil {
		return nil, err
	}
	s.record(ctx, "user.create", map[string]string{"email": email, "matric": matric}, audit.OutcomeSuccess, "", "")
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.FindUser(ctx, models.UserLookup{ID: id})
}

// FindUser retrieves a user by id, email or matric.
func (s *Service) FindUser(ctx context.Context, lookup models.UserLookup) (*models.User, error) {
	u, err := s.store.FindUser(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// UserDetail returns a user with duty counts.
func (s *Service) UserDetail(ctx context.Context, id string) (detail *UserDetail, err error) {
	ctx, span := s.startSpan(ctx, "UserDetail", attribute.String("user.id", id))
	defer func() { endSpan(span, err) }()

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	owned, err := s.store.DutiesOwnedBy(ctx, id)
	if err != nil {
		return nil, err
	}
	owed, err := s.store.DutiesOwedBy(ctx, id)
	if err != nil {
		return nil, err
	}
	on, err := s.manager.IsOnDuty(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UserDetail{User: *u, DutiesOwned: len(owned), DutiesOwed: len(owed), OnDuty: on}, nil
}

// --- Duty Operations ---

func (s *Service) view(ctx context.Context, d *models.Duty, owner *models.User) (DutyView, error) {
	if owner == nil && d.HasOwner() {
		u, err := s.store.GetUser(ctx, d.UserID)
		if err != nil {
			return DutyView{}, err
		}
		owner = u
	}
	var debtee *models.User
	if d.DebteeID != "" {
		u, err := s.store.GetUser(ctx, d.DebteeID)
		if err != nil {
			return DutyView{}, err
		}
		debtee = u
	}
	return newDutyView(d, owner, debtee, s.now()), nil
}

// StartDuty starts a duty for the caller, optionally owed to the user
// matched by debtee.
func (s *Service) StartDuty(ctx context.Context, callerID string, debtee *models.UserLookup) (view *DutyView, err error) {
	ctx, span := s.startSpan(ctx, "StartDuty", attribute.String("user.id", callerID))
	defer func() { endSpan(span, err) }()

	caller, err := s.GetUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var debteeUser *models.User
	if debtee != nil && !debtee.IsZero() {
		debteeUser, err = s.FindUser(ctx, *debtee)
		if err != nil {
			return nil, fmt.Errorf("debtee: %w", err)
		}
		if debteeUser.ID == caller.ID {
			return nil, ErrSelfDebtee
		}
		span.SetAttributes(attribute.String("debtee.id", debteeUser.ID))
	}

	inputs := map[string]string{"user_id": caller.ID}
	if debteeUser != nil {
		inputs["debtee_id"] = debteeUser.ID
	}

	d, err := s.manager.StartDuty(ctx, caller, debteeUser)
	if err != nil {
		outcome := audit.OutcomeFailed
		if errors.Is(err, duties.ErrMaxDutyCount) || errors.Is(err, duties.ErrUnfinishedDuty) {
			outcome = audit.OutcomeRejected
		}
		s.record(ctx, "duty.start", inputs, outcome, "", err.Error())
		return nil, err
	}
	s.record(ctx, "duty.start", inputs, audit.OutcomeSuccess, d.ID, "")

	v := newDutyView(d, caller, debteeUser, s.now())
	return &v, nil
}

// MyDuties returns the caller's active duties. It fails with ErrNotOnDuty
// when the caller never had a duty or is not on duty now.
func (s *Service) MyDuties(ctx context.Context, callerID string) (views []DutyView, err error) {
	ctx, span := s.startSpan(ctx, "MyDuties", attribute.String("user.id", callerID))
	defer func() { endSpan(span, err) }()

	caller, err := s.GetUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountDutiesByUser(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotOnDuty
	}
	active, err := s.manager.GetDutiesOf(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNotOnDuty
	}

	views = make([]DutyView, 0, len(active))
	for _, d := range active {
		v, err := s.view(ctx, d, caller)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Page selects which duty page the caller should see.
func (s *Service) Page(ctx context.Context, callerID string) (string, error) {
	on, err := s.manager.IsOnDuty(ctx, callerID)
	if err != nil {
		return "", err
	}
	if on {
		return PageOnDuty, nil
	}
	return PageGetStarted, nil
}

// OnDutyUsers returns the users currently performing a duty.
func (s *Service) OnDutyUsers(ctx context.Context) ([]models.User, error) {
	ids, err := s.manager.OnDutyUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// ActiveDuties returns every duty in the active set.
func (s *Service) ActiveDuties(ctx context.Context) (views []DutyView, err error) {
	ctx, span := s.startSpan(ctx, "ActiveDuties")
	defer func() { endSpan(span, err) }()

	active, err := s.manager.ActiveDuties(ctx)
	if err != nil {
		return nil, err
	}
	views = make([]DutyView, 0, len(active))
	for _, d := range active {
		v, err := s.view(ctx, d, nil)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// GetDuty returns a duty record, active or not.
func (s *Service) GetDuty(ctx context.Context, id string) (*DutyView, error) {
	d, err := s.store.GetDuty(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDutyNotFound
	}
	v, err := s.view(ctx, d, nil)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FinishDuty force-finishes one of the caller's duties.
func (s *Service) FinishDuty(ctx context.Context, callerID, dutyID string) (view *DutyView, err error) {
	ctx, span := s.startSpan(ctx, "FinishDuty", attribute.String("user.id", callerID), attribute.String("duty.id", dutyID))
	defer func() { endSpan(span, err) }()

	d, err := s.store.GetDuty(ctx, dutyID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDutyNotFound
	}
	if d.UserID != callerID {
		return nil, ErrNotOwner
	}

	d, err = s.manager.ForceFinishDuty(ctx, dutyID)
	if err != nil {
		if errors.Is(err, duties.ErrDutyNotFound) {
			return nil, ErrDutyNotFound
		}
		return nil, err
	}
	s.record(ctx, "duty.finish", map[string]string{"duty_id": dutyID, "user_id": callerID}, audit.OutcomeSuccess, dutyID, "")

	v, err := s.view(ctx, d, nil)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RemoveMyDuties takes the caller's duties out of the active set.
func (s *Service) RemoveMyDuties(ctx context.Context, callerID string) (views []DutyView, err error) {
	ctx, span := s.startSpan(ctx, "RemoveMyDuties", attribute.String("user.id", callerID))
	defer func() { endSpan(span, err) }()

	removed, err := s.manager.RemoveDutiesOf(ctx, callerID)
	if err != nil {
		return nil, err
	}
	views = make([]DutyView, 0, len(removed))
	for _, d := range removed {
		s.record(ctx, "duty.remove", map[string]string{"duty_id": d.ID, "user_id": callerID}, audit.OutcomeSuccess, d.ID, "")
		v, err := s.view(ctx, d, nil)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Reset empties the active set.
func (s *Service) Reset(ctx context.Context, callerID string) (err error) {
	ctx, span := s.startSpan(ctx, "Reset", attribute.String("user.id", callerID))
	defer func() { endSpan(span, err) }()

	if err := s.manager.Reset(ctx); err != nil {
		return err
	}
	s.record(ctx, "duty.reset", map[string]string{"user_id": callerID}, audit.OutcomeSuccess, "", "")
	return nil
}

// DecisionRecords returns recent decision records.
func (s *Service) DecisionRecords(ctx context.Context, limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(ctx, limit)
}
