// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package frame

import (
	"github.com/charmbracelet/lipgloss"
)

// Dialog renders a modal box with a title, a message, an optional input
// line and up to two buttons.
type Dialog struct {
	title   string
	message string
	input   string
	buttons []string
	focused int
	isError bool
	width   int
}

// NewDialog creates a dialog. Empty button labels are left out.
func NewDialog(title, message string, buttons ...string) *Dialog {
	d := &Dialog{title: title, message: message, width: 60}
	for _, b := range buttons {
		if b != "" {
			d.buttons = append(d.buttons, b)
		}
	}
	return d
}

// SetWidth sets the dialog width.
func (d *Dialog) SetWidth(width int) {
	if width > 10 {
		d.width = width
	}
}

// SetInput shows a rendered input line below the message.
func (d *Dialog) SetInput(view string) { d.input = view }

// SetError switches to the error colors.
func (d *Dialog) SetError(v bool) { d.isError = v }

// Focus selects the button at i.
func (d *Dialog) Focus(i int) {
	if i >= 0 && i < len(d.buttons) {
		d.focused = i
	}
}

// Focused is the index of the selected button.
func (d *Dialog) Focused() int { return d.focused }

// Render produces the dialog box.
func (d *Dialog) Render() string {
	accent := lipgloss.Color("60")
	if d.isError {
		accent = lipgloss.Color("124")
	}

	header := lipgloss.NewStyle().
		Foreground(lipgloss.Color("255")).
		Background(accent).
		Bold(true).
		Width(d.width).
		Render(" " + d.title)

	parts := []string{header, lipgloss.NewStyle().
		Width(d.width-4).
		Padding(1, 2, 0, 2).
		Render(d.message)}
	if d.input != "" {
		parts = append(parts, lipgloss.NewStyle().Padding(1, 2, 0, 2).Render(d.input))
	}
	if len(d.buttons) > 0 {
		parts = append(parts, d.renderButtonArea(accent))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Width(d.width).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (d *Dialog) renderButtonArea(accent lipgloss.Color) string {
	base := lipgloss.NewStyle().
		Foreground(lipgloss.Color("255")).
		Background(lipgloss.Color("239")).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("239")).
		Padding(0, 3, 0, 3)

	var row []string
	for i, label := range d.buttons {
		s := base
		if i == d.focused {
			s = s.Background(accent).BorderForeground(accent)
		}
		if i > 0 {
			row = append(row, "  ")
		}
		row = append(row, s.Render(label))
	}

	return lipgloss.NewStyle().
		Padding(1, 2, 1, 2).
		Render(lipgloss.JoinHorizontal(lipgloss.Center, row...))
}
