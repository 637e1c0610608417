package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/dutyhub/internal/audit"
	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/models"
	"github.com/fentz26/dutyhub/internal/store"
)

func TestHealthEndpoint_OK(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	// Create a test request
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	// Call the handler
	s.handleHealth(w, req)

	// Check response
	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	server, st, _ := newTestServerWith(t, 1)

	// Close the store to simulate DB error
	st.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestIdentityRequired(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	resp, body := do(t, h, http.MethodPost, "/duties", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without header, got %d", resp.StatusCode)
	}
	if body.Success {
		t.Error("Expected success=false")
	}

	resp, _ = do(t, h, http.MethodGet, "/duties", "ghost", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown user, got %d", resp.StatusCode)
	}
}

func TestStartDutyEndpoint(t *testing.T) {
	s, st, clock := newTestServerWith(t, 1)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "M1")
	u2 := mustUser(t, st, "u2@example.com", "Two", "M2")

	// GET before any duty
	resp, _ := do(t, h, http.MethodGet, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 before any duty, got %d", resp.StatusCode)
	}

	resp, body := do(t, h, http.MethodPost, "/duties", u1.ID, map[string]any{"debtee": map[string]string{"matric": "M2"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body.Message)
	}
	if !body.Success || !strings.HasPrefix(body.Message, "Object Active duty") {
		t.Errorf("Unexpected envelope: %+v", body)
	}
	if _, err := time.Parse(nowLayout, body.Now); err != nil {
		t.Errorf("Bad now field %q: %v", body.Now, err)
	}
	var view DutyView
	decodePayload(t, body, &view)
	if view.UserID != u1.ID || view.Debtee == nil || view.Debtee.ID != u2.ID {
		t.Errorf("Unexpected duty view: %+v", view)
	}
	if !view.DutyEnd.Equal(clock.Now().Add(models.DutyDuration)) {
		t.Errorf("Expected duty end %v, got %v", clock.Now().Add(models.DutyDuration), view.DutyEnd)
	}

	// Capacity reached
	resp, body = do(t, h, http.MethodPost, "/duties", u2.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 at capacity, got %d", resp.StatusCode)
	}
	if body.Message != duties.ErrMaxDutyCount.Error() {
		t.Errorf("Unexpected message: %s", body.Message)
	}

	resp, body = do(t, h, http.MethodGet, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body.Message, "MAX_DUTY: 1") {
		t.Errorf("Expected MAX_DUTY in message, got %s", body.Message)
	}
	var views []DutyView
	decodePayload(t, body, &views)
	if len(views) != 1 || views[0].ID != view.ID {
		t.Errorf("Expected the started duty, got %+v", views)
	}

	// Lazy expiry frees the slot
	clock.Advance(models.DutyDuration)
	resp, _ = do(t, h, http.MethodPost, "/duties", u2.ID, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201 after expiry, got %d", resp.StatusCode)
	}

	// The expired duty is still retrievable by id
	resp, body = do(t, h, http.MethodGet, "/duties/"+view.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for historical duty, got %d", resp.StatusCode)
	}
	var historical DutyView
	decodePayload(t, body, &historical)
	if !historical.Finished {
		t.Error("Expected historical duty to be finished")
	}
}

func TestStartDutyEndpoint_Debtee(t *testing.T) {
	s, st, _ := newTestServerWith(t, 2)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "M1")

	resp, body := do(t, h, http.MethodPost, "/duties", u1.ID, map[string]any{"debtee": map[string]string{"matric": "M1"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for self debtee, got %d", resp.StatusCode)
	}
	if body.Message != ErrSelfDebtee.Error() {
		t.Errorf("Unexpected message: %s", body.Message)
	}

	resp, _ = do(t, h, http.MethodPost, "/duties", u1.ID, map[string]any{"debtee": map[string]string{"email": "nobody@example.com"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown debtee, got %d", resp.StatusCode)
	}

	// Neither failure created a duty
	n, _ := st.CountDutiesByUser(t.Context(), u1.ID)
	if n != 0 {
		t.Errorf("Expected no duties, got %d", n)
	}
}

func TestStartDutyEndpoint_Unfinished(t *testing.T) {
	s, st, _ := newTestServerWith(t, 2)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")

	resp, _ := do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	resp, body := do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if !strings.Contains(body.Message, "either wait for duty to finish at |") {
		t.Errorf("Unexpected message: %s", body.Message)
	}
}

func TestFinishAndRemoveEndpoints(t *testing.T) {
	s, st, _ := newTestServerWith(t, 2)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")
	u2 := mustUser(t, st, "u2@example.com", "Two", "")

	_, body := do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	var d1 DutyView
	decodePayload(t, body, &d1)
	_, body = do(t, h, http.MethodPost, "/duties", u2.ID, nil)
	var d2 DutyView
	decodePayload(t, body, &d2)

	resp, body := do(t, h, http.MethodGet, "/duties/page", u1.ID, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Payload), PageOnDuty) {
		t.Errorf("Expected onduty page, got %d %s", resp.StatusCode, body.Payload)
	}

	// Only the owner may finish
	resp, _ = do(t, h, http.MethodPost, "/duties/"+d1.ID+"/finish", u2.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
	resp, _ = do(t, h, http.MethodPost, "/duties/missing/finish", u1.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	resp, _ = do(t, h, http.MethodPost, "/duties/"+d1.ID+"/finish", u1.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, _ = do(t, h, http.MethodGet, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 after finish, got %d", resp.StatusCode)
	}

	// Remove u2's duty
	resp, body = do(t, h, http.MethodDelete, "/duties/mine", u2.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var removed []DutyView
	decodePayload(t, body, &removed)
	if len(removed) != 1 || removed[0].ID != d2.ID {
		t.Errorf("Expected %s removed, got %+v", d2.ID, removed)
	}

	resp, body = do(t, h, http.MethodGet, "/duties/page", u2.ID, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Payload), PageGetStarted) {
		t.Errorf("Expected getstarted page, got %s", body.Payload)
	}

	// Decision records were written
	entries, err := st.ListPDR(t.Context(), 50)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	actions := map[string]int{}
	for _, e := range entries {
		actions[e.Action]++
	}
	if actions["duty.start"] != 2 || actions["duty.finish"] != 1 || actions["duty.remove"] != 1 {
		t.Errorf("Unexpected PDR actions: %v", actions)
	}
}

func TestOnDutyAndReset(t *testing.T) {
	s, st, _ := newTestServerWith(t, 3)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")
	u2 := mustUser(t, st, "u2@example.com", "Two", "")

	do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	do(t, h, http.MethodPost, "/duties", u2.ID, nil)

	_, body := do(t, h, http.MethodGet, "/duties/onduty", "", nil)
	var users []models.User
	decodePayload(t, body, &users)
	if len(users) != 2 {
		t.Errorf("Expected 2 users on duty, got %d", len(users))
	}

	resp, _ := do(t, h, http.MethodPost, "/admin/reset", u1.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	_, body = do(t, h, http.MethodGet, "/duties/active", "", nil)
	var active []DutyView
	decodePayload(t, body, &active)
	if len(active) != 0 {
		t.Errorf("Expected empty active set after reset, got %d", len(active))
	}
}

func TestUserEndpoints(t *testing.T) {
	s, st, _ := newTestServerWith(t, 1)
	defer st.Close()
	h := s.Handler()

	resp, body := do(t, h, http.MethodPost, "/users", "", map[string]string{"email": "ada@example.com", "name": "Ada", "matric": "A1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body.Message)
	}
	var u models.User
	decodePayload(t, body, &u)

	resp, _ = do(t, h, http.MethodPost, "/users", "", map[string]string{"email": "", "name": "Nobody"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing email, got %d", resp.StatusCode)
	}

	do(t, h, http.MethodPost, "/duties", u.ID, nil)

	resp, body = do(t, h, http.MethodGet, "/users/"+u.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var detail UserDetail
	decodePayload(t, body, &detail)
	if detail.DutiesOwned != 1 || detail.DutiesOwed != 0 || !detail.OnDuty {
		t.Errorf("Unexpected detail: %+v", detail)
	}

	resp, _ = do(t, h, http.MethodGet, "/users/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	_, body = do(t, h, http.MethodGet, "/users", "", nil)
	var users []models.User
	decodePayload(t, body, &users)
	if len(users) != 1 {
		t.Errorf("Expected 1 user, got %d", len(users))
	}
}

func TestRateLimit(t *testing.T) {
	s, st, _ := newTestServerWith(t, 5)
	defer st.Close()
	s.SetRateLimit(0.001, 1)
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")

	resp, _ := do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	resp, _ = do(t, h, http.MethodDelete, "/duties/mine", u1.ID, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", resp.StatusCode)
	}

	// Reads are not limited
	resp, _ = do(t, h, http.MethodGet, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for read, got %d", resp.StatusCode)
	}
}

func TestEmptyListsCarryPayload(t *testing.T) {
	s, st, _ := newTestServerWith(t, 1)
	defer st.Close()
	h := s.Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")

	do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	do(t, h, http.MethodPost, "/admin/reset", u1.ID, nil)

	for _, path := range []string{"/duties/active", "/duties/onduty"} {
		resp, body := do(t, h, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if string(body.Payload) != "[]" {
			t.Errorf("%s: expected payload [], got %q", path, body.Payload)
		}
	}

	fresh, st2, _ := newTestServerWith(t, 1)
	defer st2.Close()
	for _, path := range []string{"/users", "/admin/pdr"} {
		_, body := do(t, fresh.Handler(), http.MethodGet, path, "", nil)
		if string(body.Payload) != "[]" {
			t.Errorf("%s: expected payload [], got %q", path, body.Payload)
		}
	}
}

type failingRepo struct {
	*duties.MemoryRepository
}

func (failingRepo) InsertActiveDuty(ctx context.Context, d *models.Duty) error {
	return errors.New("disk full")
}

func TestStartDuty_RecordsFailure(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	manager := duties.NewManager(failingRepo{duties.NewMemoryRepository()}, &duties.Config{MaxDuty: 1})
	h := NewServer(NewService(st, manager, audit.NewPDRWriter(st)), st, "127.0.0.1:0").Handler()
	u1 := mustUser(t, st, "u1@example.com", "One", "")

	resp, body := do(t, h, http.MethodPost, "/duties", u1.ID, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	if body.Message != "internal error" {
		t.Errorf("Expected internal error message, got %q", body.Message)
	}

	entries, err := st.ListPDR(t.Context(), 10)
	if err != nil {
		t.Fatalf("ListPDR: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 decision record, got %d", len(entries))
	}
	if entries[0].Action != "duty.start" || entries[0].Outcome != audit.OutcomeFailed {
		t.Errorf("Expected failed duty.start, got %s %s", entries[0].Action, entries[0].Outcome)
	}
	if !strings.Contains(entries[0].Details, "disk full") {
		t.Errorf("Expected details to carry the cause, got %q", entries[0].Details)
	}
}

func TestReset_AdminsOnly(t *testing.T) {
	s, st, _ := newTestServerWith(t, 2)
	defer st.Close()
	admin := mustUser(t, st, "admin@example.com", "Admin", "")
	u1 := mustUser(t, st, "u1@example.com", "One", "")
	s.SetAdmins([]string{admin.ID})
	h := s.Handler()

	do(t, h, http.MethodPost, "/duties", u1.ID, nil)

	resp, _ := do(t, h, http.MethodPost, "/admin/reset", u1.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403 for non-admin, got %d", resp.StatusCode)
	}
	_, body := do(t, h, http.MethodGet, "/duties/active", "", nil)
	var active []DutyView
	decodePayload(t, body, &active)
	if len(active) != 1 {
		t.Errorf("Expected active set untouched, got %d", len(active))
	}

	resp, _ = do(t, h, http.MethodPost, "/admin/reset", admin.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for admin, got %d", resp.StatusCode)
	}
	_, body = do(t, h, http.MethodGet, "/duties/active", "", nil)
	decodePayload(t, body, &active)
	if len(active) != 0 {
		t.Errorf("Expected empty active set after reset, got %d", len(active))
	}

	s.SetAdmins(nil)
	resp, _ = do(t, h, http.MethodPost, "/admin/reset", u1.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected reset open again without admins, got %d", resp.StatusCode)
	}
}

// --- helpers ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
	Now     string          `json:"now"`
}

func do(t *testing.T, h http.Handler, method, path, userID string, body any) (*http.Response, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp, env
}

func decodePayload(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, v); err != nil {
		t.Fatalf("decode payload %s: %v", env.Payload, err)
	}
}

func mustUser(t *testing.T, st *store.Store, email, name, matric string) *models.User {
	t.Helper()
	u, err := st.CreateUser(t.Context(), email, name, matric)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func newTestServerWith(t *testing.T, maxDuty int) (*Server, *store.Store, *testClock) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	clock := &testClock{now: time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)}
	manager := duties.NewManager(st, &duties.Config{MaxDuty: maxDuty})
	service := NewService(st, manager, audit.NewPDRWriter(st))
	service.SetClock(clock.Now)
	return NewServer(service, st, "127.0.0.1:0"), st, clock
}

func newTestServer(t *testing.T) (*Server, func()) {
	server, st, _ := newTestServerWith(t, 1)
	cleanup := func() {
		st.Close()
	}
	return server, cleanup
}
