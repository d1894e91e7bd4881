package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used by the console.
type ColorScheme struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Success *color.Color
	Warn    *color.Color
	Error   *color.Color
	Dim     *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.FgYellow),
		Value:   color.New(color.FgCyan),
		Success: color.New(color.FgGreen, color.Bold),
		Warn:    color.New(color.FgYellow, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
		Dim:     color.New(color.Faint),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Rule, scheme.Label, scheme.Value,
		scheme.Success, scheme.Warn, scheme.Error, scheme.Dim,
	} {
		c.DisableColor()
	}
	return scheme
}

// forceColors enables every color regardless of the terminal.
func (s *ColorScheme) forceColors() {
	for _, c := range []*color.Color{
		s.Title, s.Rule, s.Label, s.Value,
		s.Success, s.Warn, s.Error, s.Dim,
	} {
		c.EnableColor()
	}
}

// SuccessIcon is a checkmark in the success color.
func (s *ColorScheme) SuccessIcon() string {
	return s.Success.Sprint("✓")
}

// ErrorIcon is a cross in the error color.
func (s *ColorScheme) ErrorIcon() string {
	return s.Error.Sprint("✗")
}

// WarningIcon is a warning sign in the warning color.
func (s *ColorScheme) WarningIcon() string {
	return s.Warn.Sprint("⚠")
}
