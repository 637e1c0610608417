// Package tui provides the interactive duty board for dutyhub.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	dutyItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// refreshInterval is how often the board polls the daemon.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	duties       []DutyItem
	users        []UserItem
	maxDuty      int
	selectedIdx  int
	input        textinput.Model
	width        int
	height       int
	mode         string // "list", "detail", "users"
	current      *DutyItem
	message      string
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
	now          func() time.Time
}

// New creates a new TUI application acting as userID.
func New(apiAddr, userID string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: start [matric|email] | finish | remove | users | / for commands"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr, userID),
		input:       ti,
		mode:        "list",
		suggestions: NewSuggestions(),
		now:         time.Now,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchDuties(),
		a.fetchUsers(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode != "list" {
				a.mode = "list"
				a.current = nil
				return a, a.fetchDuties()
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == "list" && a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == "list" && a.selectedIdx < len(a.duties)-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			if a.mode == "list" {
				a.mode = "users"
				return a, a.fetchUsers()
			}
			a.mode = "list"
			return a, a.fetchDuties()

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(cmd)
			}
			if a.mode == "list" && len(a.duties) > 0 {
				d := a.duties[a.selectedIdx]
				a.current = &d
				a.mode = "detail"
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4

	case dutiesLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		a.duties = msg.duties
		if msg.maxDuty > 0 {
			a.maxDuty = msg.maxDuty
		}
		if a.selectedIdx >= len(a.duties) {
			a.selectedIdx = max(0, len(a.duties)-1)
		}

	case usersLoadedMsg:
		a.users = msg.users

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		return a, tea.Batch(a.fetchDuties(), a.tickCmd())

	case modeMsg:
		a.mode = string(msg)
		return a, a.fetchUsers()

	case commandResultMsg:
		a.message = msg.message
		return a, a.fetchDuties()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		a.suggestions.SetUsers(a.users)
		ids := make([]string, 0, len(a.duties))
		for _, d := range a.duties {
			ids = append(ids, d.ID)
		}
		a.suggestions.SetDuties(ids)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	selected := a.suggestions.Selected()
	if selected == nil {
		return
	}
	if selected.Type == "command" {
		a.input.SetValue(selected.Text + " ")
	} else {
		a.input.SetValue("start " + selected.Text)
	}
	a.input.CursorEnd()
	a.suggestions.Update("")
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("DUTYHUB Board")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.capacityLabel())
	header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render("as "+a.whoami())

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "list":
		b.WriteString(a.renderDutyList(contentHeight))
	case "detail":
		b.WriteString(a.renderDutyDetail())
	case "users":
		b.WriteString(a.renderUsers(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions render below the input.
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "list":
		status = fmt.Sprintf(" Duties: %d | ↑↓:nav | Enter:detail | Tab:users | Ctrl+C:quit", len(a.duties))
	case "users":
		status = fmt.Sprintf(" Users: %d | Tab:duties | Esc:back", len(a.users))
	default:
		status = " Esc:back | Enter:command | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) capacityLabel() string {
	if a.maxDuty == 0 {
		return fmt.Sprintf("[%d on duty]", len(a.duties))
	}
	return fmt.Sprintf("[%d/%d on duty]", len(a.duties), a.maxDuty)
}

func (a *App) whoami() string {
	id := a.client.UserID()
	if id == "" {
		return "nobody"
	}
	for _, u := range a.users {
		if u.ID == id {
			return u.Label()
		}
	}
	return id
}

func (a *App) userLabel(id string) string {
	for _, u := range a.users {
		if u.ID == id {
			return u.Name
		}
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *App) renderDutyList(height int) string {
	if a.loading && len(a.duties) == 0 {
		return "\n  Loading duties...\n"
	}
	if len(a.duties) == 0 {
		return "\n  Nobody is on duty. Type: start to begin one.\n"
	}

	now := a.now()
	var lines []string
	for i, d := range a.duties {
		owner := a.userLabel(d.UserID)
		if d.Debtee != nil {
			owner += " for " + d.Debtee.Name
		}
		remaining := formatDuration(d.DutyEnd.Sub(now))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %-10s %-16s %s", remaining, a.phasePlain(d, now), owner)))
			continue
		}
		lines = append(lines, dutyItemStyle.Render(fmt.Sprintf("  %s %s %s",
			a.remainingStyle(d.DutyEnd.Sub(now)).Render(fmt.Sprintf("%-10s", remaining)),
			a.formatPhase(d, now),
			owner)))
	}

	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return "\n" + strings.Join(lines, "\n")
}

func (a *App) renderDutyDetail() string {
	if a.current == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	d := a.current
	now := a.now()

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(d.Summary)))
	b.WriteString(fmt.Sprintf("  ID: %s\n", d.ID))
	b.WriteString(fmt.Sprintf("  Owner: %s\n", a.userLabel(d.UserID)))
	if d.Debtee != nil {
		b.WriteString(fmt.Sprintf("  Owed to: %s\n", d.Debtee.Label()))
	}
	b.WriteString(fmt.Sprintf("  Phase: %s\n\n", a.formatPhase(*d, now)))

	row := func(name string, start, end time.Time) {
		b.WriteString(fmt.Sprintf("    %-6s %s - %s\n", name, start.Local().Format("15:04:05"), end.Local().Format("15:04:05")))
	}
	row("Duty", d.DutyStart, d.DutyEnd)
	row("Task 1", d.Task1Start, d.Task1End)
	row("Task 2", d.Task2Start, d.Task2End)
	row("Task 3", d.Task3Start, d.Task3End)

	b.WriteString("\n  " + helpStyle.Render("Type finish to end this duty now, Esc to go back") + "\n")
	return b.String()
}

func (a *App) renderUsers(height int) string {
	var b strings.Builder

	b.WriteString("\n  Users\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n")

	if len(a.users) == 0 {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(mutedColor).Render("No users registered") + "\n")
		return b.String()
	}

	onDuty := make(map[string]bool, len(a.duties))
	for _, d := range a.duties {
		onDuty[d.UserID] = true
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	b.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		headerStyle.Render(fmt.Sprintf("%-20s", "NAME")),
		headerStyle.Render(fmt.Sprintf("%-12s", "MATRIC")),
		headerStyle.Render("EMAIL"),
	))
	for i, u := range a.users {
		if i >= height-3 {
			b.WriteString(helpStyle.Render(fmt.Sprintf("  ... and %d more", len(a.users)-i)) + "\n")
			break
		}
		marker := "  "
		if onDuty[u.ID] {
			marker = onlineStyle.Render("● ")
		}
		b.WriteString(fmt.Sprintf("%s%-20s  %-12s  %s\n", marker, u.Name, u.Matric, u.Email))
	}
	return b.String()
}

// phase names the part of the duty that contains now.
func phase(d DutyItem, now time.Time) string {
	switch {
	case d.Finished || !now.Before(d.DutyEnd):
		return "finished"
	case now.Before(d.Task1Start):
		return "waiting"
	case now.Before(d.Task1End):
		return "task 1"
	case now.Before(d.Task2Start):
		return "break"
	case now.Before(d.Task2End):
		return "task 2"
	case now.Before(d.Task3Start):
		return "break"
	case now.Before(d.Task3End):
		return "task 3"
	default:
		return "wrapping up"
	}
}

func (a *App) formatPhase(d DutyItem, now time.Time) string {
	p := phase(d, now)
	style := lipgloss.NewStyle().Foreground(primaryColor)
	switch p {
	case "finished":
		style = lipgloss.NewStyle().Foreground(mutedColor)
	case "waiting", "wrapping up":
		style = lipgloss.NewStyle().Foreground(secondaryColor)
	case "break":
		style = lipgloss.NewStyle().Foreground(warningColor)
	}
	return style.Render(fmt.Sprintf("%-16s", "◑ "+p))
}

func (a *App) phasePlain(d DutyItem, now time.Time) string {
	return phase(d, now)
}

func (a *App) remainingStyle(left time.Duration) lipgloss.Style {
	switch {
	case left < 30*time.Second:
		return lipgloss.NewStyle().Foreground(errorColor)
	case left < 5*time.Minute:
		return lipgloss.NewStyle().Foreground(warningColor)
	default:
		return lipgloss.NewStyle().Foreground(successColor)
	}
}

func (a *App) fetchDuties() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		items, maxDuty, err := a.client.ActiveDuties()
		if err != nil {
			return errMsg{err}
		}
		return dutiesLoadedMsg{duties: items, maxDuty: maxDuty}
	}
}

func (a *App) fetchUsers() tea.Cmd {
	return func() tea.Msg {
		users, err := a.client.ListUsers()
		if err != nil {
			return errMsg{err}
		}
		return usersLoadedMsg{users}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return daemonStatusMsg{online: a.client.Healthy()}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) selectedDuty() *DutyItem {
	if a.current != nil {
		return a.current
	}
	if len(a.duties) == 0 || a.selectedIdx >= len(a.duties) {
		return nil
	}
	d := a.duties[a.selectedIdx]
	return &d
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]
	selected := a.selectedDuty()

	return func() tea.Msg {
		switch cmd {
		case "start":
			debtee := ""
			if len(args) > 0 {
				debtee = strings.TrimPrefix(args[0], "@")
			}
			d, err := a.client.StartDuty(debtee)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Duty started, ends %s", d.DutyEnd.Local().Format("15:04:05"))}

		case "finish":
			id := ""
			if len(args) > 0 {
				id = strings.TrimPrefix(args[0], "@")
			} else if selected != nil {
				id = selected.ID
			}
			if id == "" {
				return commandResultMsg{"No duty selected"}
			}
			if err := a.client.FinishDuty(id); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Duty finished"}

		case "remove":
			n, err := a.client.RemoveMine()
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Removed %d duty(ies)", n)}

		case "reset":
			if err := a.client.Reset(); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Board cleared"}

		case "users":
			return modeMsg("users")

		case "page":
			view, err := a.client.Page()
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"Page: " + view}

		case "refresh", "r":
			return commandResultMsg{"Refreshed"}

		case "whoami":
			return commandResultMsg{"Acting as " + a.whoami()}

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: start, finish, remove, users)", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type dutiesLoadedMsg struct {
	duties  []DutyItem
	maxDuty int
}

type usersLoadedMsg struct {
	users []UserItem
}

type daemonStatusMsg struct {
	online bool
}

type modeMsg string

type tickMsg time.Time

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "DONE"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
