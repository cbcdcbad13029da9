package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// MinNameWidth is the narrowest speaker column.
const MinNameWidth = 10

// ansiColors maps the color names accepted in the config to ANSI codes.
var ansiColors = map[string]string{
	"black":  "0",
	"red":    "1",
	"green":  "2",
	"yellow": "3",
	"blue":   "4",
	"purple": "5",
	"cyan":   "6",
	"gray":   "7",
}

// DefaultColors are the colors of the built-in roles and discussion participants.
func DefaultColors() map[string]string {
	return map[string]string{
		"system":    "blue",
		"user":      "green",
		"assistant": "cyan",
		"gpt1":      "blue",
		"gpt2":      "purple",
	}
}

// DefaultAlias maps roles to the names shown for them.
func DefaultAlias() map[string]string {
	return map[string]string{
		"system":    "System",
		"user":      "User",
		"assistant": "Assistant",
	}
}

// Styler renders speaker names.
type Styler struct {
	styles  map[string]lipgloss.Style
	enabled bool
	width   int
}

// NewStyler builds styles from colors. A color keyed by a role also applies to
// that role's alias unless the alias has its own.
func NewStyler(colors, alias map[string]string, enabled bool) *Styler {
	merged := make(map[string]string, len(colors)*2)
	for k, v := range colors {
		merged[k] = v
	}
	for role, name := range alias {
		if _, ok := merged[name]; !ok {
			if c, ok := colors[role]; ok {
				merged[name] = c
			}
		}
	}

	s := &Styler{styles: make(map[string]lipgloss.Style, len(merged)), enabled: enabled, width: MinNameWidth}
	for name, c := range merged {
		code, ok := ansiColors[strings.ToLower(c)]
		if !ok {
			if !strings.HasPrefix(c, "#") {
				continue
			}
			code = c
		}
		s.styles[name] = lipgloss.NewStyle().Foreground(lipgloss.Color(code)).Bold(true)
	}
	return s
}

// SetWidth sets the speaker column width, never below MinNameWidth.
func (s *Styler) SetWidth(n int) {
	s.width = max(n, MinNameWidth)
}

// Width returns the speaker column width.
func (s *Styler) Width() int { return s.width }

// Prefix returns the right-aligned, colored "name> ".
func (s *Styler) Prefix(name string) string {
	return s.Name(name) + "> "
}

// PlainPrefix is Prefix without colors, used where escape codes would break
// cursor positioning.
func (s *Styler) PlainPrefix(name string) string {
	return fmt.Sprintf("%*s> ", s.width, name)
}

// Name returns name right-aligned to the column and colored.
func (s *Styler) Name(name string) string {
	padded := fmt.Sprintf("%*s", s.width, name)
	if st, ok := s.styles[name]; ok && s.enabled {
		return st.Render(padded)
	}
	return padded
}
