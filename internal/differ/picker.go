// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package differ

import (
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-tfe"
	"golang.org/x/term"
)

// SelectStateVersions runs the interactive picker over the version list and
// returns the two chosen versions in pick order. It returns nil when fewer
// than two candidates exist, stdout is not a terminal, or the user bails.
func SelectStateVersions(versions []*tfe.StateVersion) []*tfe.StateVersion {
	if len(versions) < 2 {
		log.Warnf("need at least two state versions to pick from, have %d", len(versions))
		return nil
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		log.Warn("stdout is not a terminal; pass explicit version specs instead of +")
		return nil
	}

	final, err := tea.NewProgram(newPicker(versions), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		log.WithError(err).Error("picker failed")
		return nil
	}

	m := final.(pickerModel)
	if len(m.picked) != 2 {
		return nil
	}

	return []*tfe.StateVersion{versions[m.picked[0]], versions[m.picked[1]]}
}

type pickerKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

var pickerKeys = pickerKeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "pick")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "diff")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	pickerTitleStyle  = lipgloss.NewStyle().Bold(true)
	pickerCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f6be00"))
	pickerPickedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00c8f0"))
	pickerHelpStyle   = lipgloss.NewStyle().Faint(true)
)

type pickerModel struct {
	versions []*tfe.StateVersion
	cursor   int
	picked   []int
}

func newPicker(versions []*tfe.StateVersion) pickerModel {
	return pickerModel{versions: versions}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, pickerKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, pickerKeys.Down):
		if m.cursor < len(m.versions)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, pickerKeys.Toggle):
		m.toggle(m.cursor)
	case key.Matches(keyMsg, pickerKeys.Confirm):
		// Enter on an unpicked row picks it, then confirms once two are in.
		if !m.isPicked(m.cursor) {
			m.toggle(m.cursor)
		}
		if len(m.picked) == 2 {
			return m, tea.Quit
		}
	case key.Matches(keyMsg, pickerKeys.Quit):
		m.picked = nil
		return m, tea.Quit
	}

	return m, nil
}

func (m *pickerModel) toggle(idx int) {
	for i, p := range m.picked {
		if p == idx {
			m.picked = append(m.picked[:i], m.picked[i+1:]...)
			return
		}
	}
	if len(m.picked) < 2 {
		m.picked = append(m.picked, idx)
	}
}

func (m pickerModel) isPicked(idx int) bool {
	for _, p := range m.picked {
		if p == idx {
			return true
		}
	}
	return false
}

func (m pickerModel) View() string {
	var b strings.Builder

	b.WriteString(pickerTitleStyle.Render("Pick two state versions to diff"))
	b.WriteString("\n\n")

	for i, sv := range m.versions {
		cursor := "  "
		if i == m.cursor {
			cursor = pickerCursorStyle.Render("> ")
		}

		mark := "[ ]"
		if m.isPicked(i) {
			mark = pickerPickedStyle.Render("[x]")
		}

		line := fmt.Sprintf("%s %-40.40s serial=%-6d %s",
			mark, sv.ID, sv.Serial, humanize.Time(sv.CreatedAt))
		if i == m.cursor {
			line = pickerCursorStyle.Render(line)
		}

		b.WriteString(cursor + line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(pickerHelpStyle.Render("space pick · enter diff · q quit"))
	b.WriteString("\n")

	return b.String()
}
