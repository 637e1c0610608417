package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for commands
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/" or "@"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "user", "duty"
}

var commandSuggestions = []SuggestionItem{
	{Text: "start", Description: "Start a duty, optionally owed to a user", Type: "command"},
	{Text: "finish", Description: "Finish the selected duty now", Type: "command"},
	{Text: "remove", Description: "Remove your duties from the board", Type: "command"},
	{Text: "reset", Description: "Clear every active duty", Type: "command"},
	{Text: "users", Description: "List known users", Type: "command"},
	{Text: "page", Description: "Show which page you would land on", Type: "command"},
	{Text: "refresh", Description: "Reload the board", Type: "command"},
	{Text: "whoami", Description: "Show the user you act as", Type: "command"},
	{Text: "quit", Description: "Leave dutyhub", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	if input == "" {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	switch input[0] {
	case '/':
		s.prefix = "/"
		s.items = commandSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "/")))
	case '@':
		s.prefix = "@"
		// references are filled in by SetUsers and SetDuties
		if len(s.items) > 0 && s.items[0].Type == "command" {
			s.items = []SuggestionItem{}
		}
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "@")))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}

	s.currentInput = input
}

// SetUsers replaces the @ references with users, keyed by matric or email.
func (s *Suggestions) SetUsers(users []UserItem) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, 0, len(users))
	for _, u := range users {
		key := u.Matric
		if key == "" {
			key = u.Email
		}
		s.items = append(s.items, SuggestionItem{
			Text:        key,
			Description: u.Name,
			Type:        "user",
		})
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
}

// SetDuties appends duty ids to the @ references.
func (s *Suggestions) SetDuties(ids []string) {
	if s.prefix != "@" {
		return
	}
	for _, id := range ids {
		s.items = append(s.items, SuggestionItem{
			Text:        id,
			Description: "Reference this duty",
			Type:        "duty",
		})
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#6366F1")).
		Padding(0, 1).
		Width(width - 4)

	selectedStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("#7C3AED")).
		Foreground(lipgloss.Color("#F9FAFB")).
		Bold(true)

	itemStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F9FAFB"))

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Italic(true)

	// Header
	header := "Commands"
	if s.prefix == "@" {
		header = "References"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		line := ""
		if i == s.selectedIdx {
			line = selectedStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
