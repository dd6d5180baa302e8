// Package ui styles CLI output.
package ui

import "fmt"

// ANSI 256-colour codes.
const (
	colorAccent  = 74  // blue
	colorCommand = 250 // light gray
	colorMuted   = 245 // medium gray
	colorGood    = 71  // green
	colorWarn    = 179 // amber
	colorBad     = 167 // red
)

var noColor bool

// SetColor enables or disables ANSI output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}

func paint(code int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

func RenderAccent(s string) string  { return paint(colorAccent, s) }
func RenderCommand(s string) string { return paint(colorCommand, s) }
func RenderMuted(s string) string   { return paint(colorMuted, s) }

// RenderState colours a consent or request state word: granted, active and
// approved are green; pending and expired amber; revoked and denied red.
func RenderState(state string) string {
	switch state {
	case "active", "granted", "approved", "yes":
		return paint(colorGood, state)
	case "pending", "expired":
		return paint(colorWarn, state)
	case "revoked", "denied", "inactive", "no":
		return paint(colorBad, state)
	}
	return state
}
