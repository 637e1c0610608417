package tui

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/dutyhub/internal/audit"
	"github.com/fentz26/dutyhub/internal/controlplane"
	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/models"
	"github.com/fentz26/dutyhub/internal/store"
)

type fixture struct {
	url   string
	store *store.Store
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T, maxDuty int) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager := duties.NewManager(st, &duties.Config{MaxDuty: maxDuty})
	service := controlplane.NewService(st, manager, audit.NewPDRWriter(st))
	srv := httptest.NewServer(controlplane.NewServer(service, st, "").Handler())
	t.Cleanup(srv.Close)

	alice, err := st.CreateUser(t.Context(), "alice@example.com", "Alice", "A001")
	require.NoError(t, err)
	bob, err := st.CreateUser(t.Context(), "bob@example.com", "Bob", "")
	require.NoError(t, err)

	return &fixture{url: srv.URL, store: st, alice: alice, bob: bob}
}

func TestClient_DutyLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	c := NewClient(f.url, f.alice.ID)

	require.True(t, c.Healthy())

	view, err := c.Page()
	require.NoError(t, err)
	assert.Equal(t, "getstarted", view)

	d, err := c.StartDuty("bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, d.Debtee)
	assert.Equal(t, f.bob.ID, d.Debtee.ID)
	assert.Equal(t, f.alice.ID, d.UserID)

	items, maxDuty, err := c.ActiveDuties()
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, maxDuty)

	view, err = c.Page()
	require.NoError(t, err)
	assert.Equal(t, "onduty", view)

	// a second start while the first is running is refused
	_, err = c.StartDuty("")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Contains(t, apiErr.Message, "ongoing duty")

	n, err := c.RemoveMine()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a finished duty drops off the board on the next read
	d, err = c.StartDuty("")
	require.NoError(t, err)
	require.NoError(t, c.FinishDuty(d.ID))

	items, _, err = c.ActiveDuties()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_Unauthenticated(t *testing.T) {
	f := newFixture(t, 1)
	c := NewClient(f.url, "")

	_, err := c.StartDuty("")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)

	users, err := c.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestClient_StartByMatric(t *testing.T) {
	f := newFixture(t, 1)
	c := NewClient(f.url, f.bob.ID)

	d, err := c.StartDuty("A001")
	require.NoError(t, err)
	require.NotNil(t, d.Debtee)
	assert.Equal(t, f.alice.ID, d.Debtee.ID)
}

func TestParseMaxDuty(t *testing.T) {
	assert.Equal(t, 3, parseMaxDuty("Active duties sent. MAX_DUTY: 3"))
	assert.Equal(t, 0, parseMaxDuty("Duty sent"))
	assert.Equal(t, 0, parseMaxDuty("MAX_DUTY: lots"))
}

func TestPhase(t *testing.T) {
	base := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	d := DutyItem{
		DutyStart:  base,
		Task1Start: base.Add(1 * time.Minute),
		Task1End:   base.Add(10 * time.Minute),
		Task2Start: base.Add(12 * time.Minute),
		Task2End:   base.Add(20 * time.Minute),
		Task3Start: base.Add(22 * time.Minute),
		Task3End:   base.Add(30 * time.Minute),
		DutyEnd:    base.Add(31 * time.Minute),
	}

	tests := []struct {
		at   time.Duration
		want string
	}{
		{0, "waiting"},
		{5 * time.Minute, "task 1"},
		{11 * time.Minute, "break"},
		{15 * time.Minute, "task 2"},
		{25 * time.Minute, "task 3"},
		{30*time.Minute + 30*time.Second, "wrapping up"},
		{31 * time.Minute, "finished"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, phase(d, base.Add(tt.at)))
		})
	}

	d.Finished = true
	assert.Equal(t, "finished", phase(d, base))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "DONE", formatDuration(-time.Second))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("/fin")
	require.True(t, s.IsVisible())
	assert.Equal(t, "finish", s.Selected().Text)

	s.Update("@")
	s.SetUsers([]UserItem{{ID: "1", Name: "Alice", Matric: "A001"}, {ID: "2", Name: "Bob", Email: "bob@example.com"}})
	s.SetDuties([]string{"duty-1"})
	require.True(t, s.IsVisible())
	assert.Equal(t, "A001", s.Selected().Text)
	s.Next()
	assert.Equal(t, "bob@example.com", s.Selected().Text)
	s.Next()
	assert.Equal(t, "duty", s.Selected().Type)
	s.Next()
	assert.Equal(t, "A001", s.Selected().Text)

	s.Update("start")
	assert.False(t, s.IsVisible())
}

func TestApp_Update(t *testing.T) {
	a := New("http://127.0.0.1:0", "u1")
	a.users = []UserItem{{ID: "u1", Name: "Alice", Matric: "A001"}}

	now := time.Now()
	a.Update(dutiesLoadedMsg{
		duties: []DutyItem{
			{ID: "d1", UserID: "u1", DutyStart: now, DutyEnd: now.Add(time.Hour), Summary: "d1"},
			{ID: "d2", UserID: "u2", DutyStart: now, DutyEnd: now.Add(time.Hour), Summary: "d2"},
		},
		maxDuty: 3,
	})
	assert.True(t, a.daemonOnline)
	assert.Equal(t, "[2/3 on duty]", a.capacityLabel())
	assert.Equal(t, "Alice (A001)", a.whoami())

	a.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, a.selectedIdx)

	a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "detail", a.mode)
	require.NotNil(t, a.current)
	assert.Equal(t, "d2", a.current.ID)
	assert.Contains(t, a.View(), "d2")

	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, "list", a.mode)
	assert.Nil(t, a.current)

	// shrinking the board keeps the selection in range
	a.Update(dutiesLoadedMsg{duties: []DutyItem{{ID: "d1", UserID: "u1", DutyEnd: now.Add(time.Hour)}}})
	assert.Equal(t, 0, a.selectedIdx)
	assert.Equal(t, "[1/3 on duty]", a.capacityLabel())

	a.Update(errMsg{assert.AnError})
	assert.True(t, strings.HasPrefix(a.message, "Error: "))
}

func TestApp_ExecuteCommand(t *testing.T) {
	f := newFixture(t, 1)
	a := New(f.url, f.alice.ID)

	msg := a.executeCommand("/start @bob@example.com")()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok)
	assert.Contains(t, res.message, "Duty started")

	msg = a.executeCommand("users")()
	assert.Equal(t, modeMsg("users"), msg)

	msg = a.executeCommand("start")()
	res = msg.(commandResultMsg)
	assert.Contains(t, res.message, "Error")

	msg = a.executeCommand("remove")()
	res = msg.(commandResultMsg)
	assert.Equal(t, "✓ Removed 1 duty(ies)", res.message)

	msg = a.executeCommand("bogus")()
	res = msg.(commandResultMsg)
	assert.Contains(t, res.message, "Unknown: bogus")

	assert.Nil(t, a.executeCommand("   "))
	assert.IsType(t, tea.QuitMsg{}, a.executeCommand("quit")())
}
