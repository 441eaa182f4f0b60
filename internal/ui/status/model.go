// Package status is the terminal view shown by `run --watch`. It follows
// the sync loop through its result channel and lets the user start a tick
// early.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/mailchain-connector-imap/internal/keys"
	"github.com/nhle/mailchain-connector-imap/internal/sync"
	"github.com/nhle/mailchain-connector-imap/internal/theme"
)

// historySize is how many finished ticks are listed.
const historySize = 5

// Loop is the part of the sync loop the view talks to.
type Loop interface {
	Results() <-chan sync.TickStats
	Status() sync.Status
	Trigger()
}

// tickDoneMsg carries a finished tick from the loop.
type tickDoneMsg struct {
	stats sync.TickStats
}

// refreshMsg redraws the countdown.
type refreshMsg time.Time

// Model is the status view.
type Model struct {
	loop    Loop
	title   string
	keys    *keys.KeyMap
	help    help.Model
	spinner spinner.Model

	status  sync.Status
	history []sync.TickStats

	// now is the clock used for the countdown.
	now func() time.Time

	width int
}

// New creates a status view for loop. title is shown in the header.
func New(loop Loop, title string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorYellow)

	return Model{
		loop:    loop,
		title:   title,
		keys:    keys.DefaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		status:  loop.Status(),
		now:     time.Now,
	}
}

// Init starts listening for tick results.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForTick(m.loop.Results()),
		refresh(),
		m.spinner.Tick,
	)
}

func waitForTick(ch <-chan sync.TickStats) tea.Cmd {
	return func() tea.Msg {
		stats, ok := <-ch
		if !ok {
			return nil
		}
		return tickDoneMsg{stats: stats}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Update handles messages for the status view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickDoneMsg:
		m.history = append([]sync.TickStats{msg.stats}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
		m.status = m.loop.Status()
		return m, waitForTick(m.loop.Results())

	case refreshMsg:
		m.status = m.loop.Status()
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.SyncNow):
			m.loop.Trigger()
			return m, nil
		}
	}
	return m, nil
}

// View renders the status view.
func (m Model) View() string {
	state := m.status.State.String()
	stateLine := theme.StateStyle(state).Render(strings.ToUpper(state))
	switch m.status.State {
	case sync.Polling:
		stateLine = m.spinner.View() + stateLine
	case sync.Sleeping:
		if wait := m.status.NextTick.Sub(m.now()); wait > 0 {
			stateLine += theme.HelpStyle.Render(
				fmt.Sprintf("next sync in %s", wait.Round(time.Second)))
		}
	}

	sections := []string{
		theme.HeaderStyle.Render(m.title),
		stateLine,
		"",
	}
	if len(m.history) == 0 {
		sections = append(sections, theme.HelpStyle.Render("Waiting for the first sync..."))
	}
	for _, s := range m.history {
		sections = append(sections, m.renderTick(s))
	}
	sections = append(sections, "", m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTick(s sync.TickStats) string {
	when := humanize.RelTime(s.Finished, m.now(), "ago", "from now")
	if s.Err != nil {
		return theme.ErrorStyle.Render("✗ ") + when + "  " + theme.ErrorStyle.Render(s.Err.Error())
	}

	mark := theme.OKStyle.Render("✓ ")
	if s.Failed > 0 {
		mark = theme.ErrorStyle.Render("! ")
	}
	return mark + when + "  " + fmt.Sprintf(
		"%d addresses, %d messages: %d delivered, %d duplicate, %d discarded, %d failed",
		s.Addresses, s.Messages, s.Appended, s.Duplicates, s.Discarded, s.Failed,
	)
}
