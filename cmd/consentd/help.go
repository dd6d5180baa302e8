package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/ui"
)

var (
	// Unindented line ending with ":" ("Queries:", "Flags:").
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a word, then at least two spaces before the description.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|uint|duration|stringSlice)`)

	reDefault = regexp.MustCompile(`\(default "[^"]*"\)`)
)

// colorizedHelpFunc post-processes cobra's help text with ANSI colours when
// stdout supports them.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		fmt.Fprint(orig, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(m string) string {
		if p := reCommand.FindStringSubmatch(m); len(p) == 4 {
			return p[1] + ui.RenderCommand(p[2]) + p[3]
		}
		return m
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(m string) string {
		if p := reFlagType.FindStringSubmatch(m); len(p) == 3 {
			return p[1] + ui.RenderMuted(p[2])
		}
		return m
	})
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
