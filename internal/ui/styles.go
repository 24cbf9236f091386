package ui

import "strconv"

// Style is an ANSI 256-color foreground.
type Style int

// Palette used by the CLI.
const (
	Accent  Style = 74
	Command Style = 250
	Muted   Style = 245
	OK      Style = 114
	Fail    Style = 203
	Warn    Style = 221
)

var noColor bool

// Render wraps s in the style's escape codes unless color is off.
func (c Style) Render(s string) string {
	if noColor {
		return s
	}
	return "\x1b[38;5;" + strconv.Itoa(int(c)) + "m" + s + "\x1b[0m"
}

func RenderAccent(s string) string  { return Accent.Render(s) }
func RenderMuted(s string) string   { return Muted.Render(s) }
func RenderCommand(s string) string { return Command.Render(s) }
func RenderOK(s string) string      { return OK.Render(s) }
func RenderFail(s string) string    { return Fail.Render(s) }
func RenderWarn(s string) string    { return Warn.Render(s) }

// ForceNoColor turns color off for the rest of the process.
func ForceNoColor() { noColor = true }
