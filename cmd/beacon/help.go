package main

import (
	"bytes"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/beacon/internal/ui"
)

// helpRule colors the submatches of pattern; group 0 styles the whole match.
type helpRule struct {
	pattern *regexp.Regexp
	group   int
	style   func(string) string
}

var helpRules = []helpRule{
	// "Events:", "Flags:" and other section titles.
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), 1, ui.RenderAccent},
	// Subcommand names in the command table.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.RenderCommand},
	// Value types after a flag name.
	{regexp.MustCompile(`--?\S+\s+(string|int|duration|stringSlice|stringArray|stringToString)\b`), 1, ui.RenderMuted},
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
}

// colorizedHelpFunc renders cobra's usage text, colored when stdout allows.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		_, _ = out.Write([]byte(colorizeHelpOutput(buf.String())))
	}
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = applyHelpRule(r, s)
	}
	return s
}

func applyHelpRule(r helpRule, s string) string {
	var b bytes.Buffer
	last := 0
	for _, m := range r.pattern.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[2*r.group], m[2*r.group+1]
		if start < 0 {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(r.style(s[start:end]))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
