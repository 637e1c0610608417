package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/models"
	"github.com/fentz26/dutyhub/internal/store"
)

// Version is reported by /health. Set at build time.
var Version = "dev"

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// nowLayout is the layout of the "now" field in every response.
const nowLayout = "01/02/2006 15:04:05"

// Response is the envelope of every duty and user endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Payload any    `json:"payload"`
	Now     string `json:"now"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for dutyhub.
type Server struct {
	service *Service
	store   *store.Store
	addr    string
	server  *http.Server
	limiter *callerLimiter
	admins  map[string]bool
	logger  *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, st *store.Store, addr string) *Server {
	return &Server{
		service: service,
		store:   st,
		addr:    addr,
		logger:  slog.Default().With("component", "http"),
	}
}

// SetRateLimit enables per-caller rate limiting of mutating endpoints.
// A non-positive rps disables it.
func (s *Server) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = newCallerLimiter(rps, burst)
}

// SetAdmins restricts POST /admin/reset to the given user ids. An empty list
// leaves it open to any identified caller.
func (s *Server) SetAdmins(ids []string) {
	if len(ids) == 0 {
		s.admins = nil
		return
	}
	s.admins = make(map[string]bool, len(ids))
	for _, id := range ids {
		s.admins[id] = true
	}
}

// SetLogger sets the server logger.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l.With("component", "http")
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Duty endpoints
	mux.HandleFunc("POST /duties", s.limit(s.authed(s.startDuty)))
	mux.HandleFunc("GET /duties", s.authed(s.myDuties))
	mux.HandleFunc("GET /duties/page", s.authed(s.dutyPage))
	mux.HandleFunc("GET /duties/onduty", s.onDuty)
	mux.HandleFunc("GET /duties/active", s.activeDuties)
	mux.HandleFunc("DELETE /duties/mine", s.limit(s.authed(s.removeMyDuties)))
	mux.HandleFunc("GET /duties/{id}", s.getDuty)
	mux.HandleFunc("POST /duties/{id}/finish", s.limit(s.authed(s.finishDuty)))

	// Admin
	mux.HandleFunc("POST /admin/reset", s.limit(s.authed(s.reset)))
	mux.HandleFunc("GET /admin/pdr", s.listPDR)

	// User endpoints
	mux.HandleFunc("POST /users", s.limit(s.createUser))
	mux.HandleFunc("GET /users", s.listUsers)
	mux.HandleFunc("GET /users/{id}", s.getUser)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting dutyhub daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) nowString() string {
	return s.service.now().Format(nowLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, status int, message string, payload any) {
	writeJSON(w, status, Response{Success: true, Message: message, Payload: payload, Now: s.nowString()})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, Response{Success: false, Message: message, Now: s.nowString()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrDutyNotFound), errors.Is(err, duties.ErrDutyNotFound):
		return http.StatusNotFound
	case errors.Is(err, duties.ErrMaxDutyCount), errors.Is(err, duties.ErrUnfinishedDuty),
		errors.Is(err, ErrSelfDebtee), errors.Is(err, ErrNotOnDuty), errors.Is(err, ErrInvalidUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, caller *models.User)

// authed resolves the caller from UserHeader. Missing or unknown ids get 401.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			s.fail(w, r, ErrUnauthenticated)
			return
		}
		caller, err := s.service.GetUser(r.Context(), id)
		if errors.Is(err, ErrUserNotFound) {
			s.fail(w, r, fmt.Errorf("%w: unknown user %s", ErrUnauthenticated, id))
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, caller)
	}
}

// --- Duty Handlers ---

type startDutyRequest struct {
	Debtee *models.UserLookup `json:"debtee"`
}

func (s *Server) startDuty(w http.ResponseWriter, r *http.Request, caller *models.User) {
	var req startDutyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid json", Now: s.nowString()})
		return
	}

	view, err := s.service.StartDuty(r.Context(), caller.ID, req.Debtee)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, fmt.Sprintf("Object %s created successfully", view.Summary), view)
}

func (s *Server) myDuties(w http.ResponseWriter, r *http.Request, caller *models.User) {
	views, err := s.service.MyDuties(r.Context(), caller.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, fmt.Sprintf("Duties sent. MAX_DUTY: %d", s.service.MaxDuty()), views)
}

func (s *Server) dutyPage(w http.ResponseWriter, r *http.Request, caller *models.User) {
	page, err := s.service.Page(r.Context(), caller.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, "Page selected", map[string]string{"view": page})
}

func (s *Server) onDuty(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.OnDutyUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, fmt.Sprintf("%d user(s) on duty", len(users)), users)
}

func (s *Server) activeDuties(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.ActiveDuties(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, fmt.Sprintf("Active duties sent. MAX_DUTY: %d", s.service.MaxDuty()), views)
}

func (s *Server) getDuty(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetDuty(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, "Duty sent", view)
}

func (s *Server) finishDuty(w http.ResponseWriter, r *http.Request, caller *models.User) {
	view, err := s.service.FinishDuty(r.Context(), caller.ID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, "Duty finished", view)
}

func (s *Server) removeMyDuties(w http.ResponseWriter, r *http.Request, caller *models.User) {
	views, err := s.service.RemoveMyDuties(r.Context(), caller.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, fmt.Sprintf("%d duty(ies) removed", len(views)), views)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request, caller *models.User) {
	if s.admins != nil && !s.admins[caller.ID] {
		s.fail(w, r, ErrNotAdmin)
		return
	}
	if err := s.service.Reset(r.Context(), caller.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, "Active duties cleared", nil)
}

func (s *Server) listPDR(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.DecisionRecords(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	s.ok(w, http.StatusOK, "Decision records sent", entries)
}

// --- User Handlers ---

type createUserRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Matric string `json:"matric"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid json", Now: s.nowString()})
		return
	}

	user, err := s.service.CreateUser(r.Context(), req.Email, req.Name, req.Matric)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, "User created", user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	s.ok(w, http.StatusOK, "Users sent", users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.UserDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, "User sent", detail)
}

// --- Health ---

// handleHealth reports daemon and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
