// Package console is a terminal presenter for one show. It drives the same
// live show the web presenter does, so displays follow along.
package console

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pinkmilk/starzzz/internal/fase"
	"github.com/pinkmilk/starzzz/internal/game"
)

// Show is the part of *game.Show the console uses.
type Show interface {
	State() game.State
	Advance(dir fase.Direction) fase.Key
	JumpToGroup(group string) (fase.Key, error)
}

// StateMsg announces a state change made elsewhere (web presenter, backend).
type StateMsg game.State

type reloadedMsg struct {
	show Show
	err  error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	groupStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 1)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	headingStyle = lipgloss.NewStyle().Bold(true).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205")).Padding(1, 3)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type Model struct {
	show   Show
	groups []fase.Group
	reload func() (Show, error)

	state game.State
	err   error
	width int
}

// New builds the model. reload may be nil.
func New(show Show, groups []fase.Group, reload func() (Show, error)) Model {
	return Model{show: show, groups: groups, reload: reload, state: show.State()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case StateMsg:
		// states can arrive late, so read the show itself
		if msg.SessionID == m.state.SessionID {
			m.state = m.show.State()
		}
	case reloadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.show, m.err = msg.show, nil
		m.state = m.show.State()
	case tea.KeyMsg:
		return m.key(msg)
	}
	return m, nil
}

func (m Model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch s := msg.String(); s {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "right", "l", " ", "n":
		m.show.Advance(fase.Next)
	case "left", "h", "p":
		m.show.Advance(fase.Prev)
	case "r":
		if m.reload == nil {
			return m, nil
		}
		reload := m.reload
		return m, func() tea.Msg {
			show, err := reload()
			return reloadedMsg{show: show, err: err}
		}
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > len(m.groups) {
			return m, nil
		}
		if _, err := m.show.JumpToGroup(m.groups[n-1].Key); err != nil {
			m.err = err
			return m, nil
		}
	}
	m.err = nil
	m.state = m.show.State()
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", m.state.Showname, m.state.City)))
	b.WriteString("\n")
	b.WriteString(groupStyle.Render(fmt.Sprintf("fase %s  %s", m.state.Fase, m.state.View.GroupName)))
	b.WriteString("\n\n")

	tabs := make([]string, 0, len(m.groups))
	for i, g := range m.groups {
		label := fmt.Sprintf("%d %s", i+1, g.Name)
		if g.Key == m.state.Group {
			tabs = append(tabs, activeStyle.Render(label))
		} else {
			tabs = append(tabs, idleStyle.Render(label))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")

	lines := m.state.View.Lines
	if len(lines) == 0 {
		lines = []string{m.state.View.Heading}
	}
	heading := headingStyle
	if m.width > 8 {
		heading = heading.MaxWidth(m.width - 2)
	}
	b.WriteString(heading.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")
	if media := m.state.View.Media; media != nil {
		b.WriteString(groupStyle.Render(fmt.Sprintf("%s: %s", media.Kind, media.Name)))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("←/→ fase · 1-" + strconv.Itoa(len(m.groups)) + " group · r reload · q quit"))
	return b.String()
}
