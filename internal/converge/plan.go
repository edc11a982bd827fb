// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package converge

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Action is the verb a step performs against one resource.
type Action int

const (
	ActionNoOp Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionReplace:
		return "replace"
	case ActionDelete:
		return "delete"
	default:
		return "no-op"
	}
}

func (a Action) marker() string {
	switch a {
	case ActionCreate:
		return "+"
	case ActionUpdate:
		return "~"
	case ActionReplace:
		return "-/+"
	case ActionDelete:
		return "-"
	default:
		return ""
	}
}

// Step is one resource-level change. Prior carries the physical identity
// being retired where one exists: the old access key id, the old policy
// ARN, the old secret or user name.
type Step struct {
	Action Action
	Type   string
	Name   string
	Reason string
	Prior  string
}

// Address is the type.name form the renderer and the logs use.
func (s Step) Address() string {
	return s.Type + "." + s.Name
}

// Plan is an ordered list of changes. The order is execution order:
// dependencies before dependents going up, the reverse coming down.
type Plan struct {
	Steps []Step
}

func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Counts tallies the summary numbers. A replace counts as one add plus one
// destroy, the way terraform reports it.
func (p *Plan) Counts() (add, change, destroy int) {
	for _, s := range p.Steps {
		switch s.Action {
		case ActionCreate:
			add++
		case ActionUpdate:
			change++
		case ActionReplace:
			add++
			destroy++
		case ActionDelete:
			destroy++
		}
	}
	return add, change, destroy
}

func (p *Plan) Summary() string {
	add, change, destroy := p.Counts()
	return fmt.Sprintf("Plan: %d to add, %d to change, %d to destroy.", add, change, destroy)
}

var (
	createStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	updateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	destroyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	replaceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	reasonStyle  = lipgloss.NewStyle().Faint(true)
)

func (a Action) style() lipgloss.Style {
	switch a {
	case ActionCreate:
		return createStyle
	case ActionUpdate:
		return updateStyle
	case ActionReplace:
		return replaceStyle
	default:
		return destroyStyle
	}
}

// Render writes the human-readable plan. The renderer deals in addresses
// only; key material never reaches it.
func (p *Plan) Render(w io.Writer) {
	if p.Empty() {
		fmt.Fprintln(w, "No changes. The stack matches the state.")
		return
	}

	width := 0
	for _, s := range p.Steps {
		if l := len(s.Address()); l > width {
			width = l
		}
	}

	for _, s := range p.Steps {
		marker := s.Action.style().Render(fmt.Sprintf("%3s", s.Action.marker()))
		line := fmt.Sprintf("%s %-*s  %s", marker, width, s.Address(), s.Action)
		if s.Reason != "" {
			line += "  " + reasonStyle.Render("("+s.Reason+")")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, p.Summary())
}
