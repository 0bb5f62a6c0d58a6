// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package frame holds the small layout helpers of the terminal UI.
package frame

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Footer builds a one-line footer from left and right tokens, aligning the
// right token to the right edge of a line with the given width. Widths are
// measured in cells, so styled tokens are fine. The left side is cut when
// space is short.
func Footer(left, right string, width int) string {
	if width <= 0 {
		return left + " " + right
	}
	rl := lipgloss.Width(right)
	ll := lipgloss.Width(left)
	if ll+rl+1 <= width {
		return left + strings.Repeat(" ", width-ll-rl) + right
	}
	maxLeft := width - rl - 1
	if maxLeft <= 0 {
		return trimToWidth(right, width)
	}
	return trimToWidth(left, maxLeft) + " " + right
}

func trimToWidth(s string, w int) string {
	if w <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= w {
		return s
	}
	return string(runes[:w])
}
