package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout gets ANSI colors. NO_COLOR wins
// over CLICOLOR_FORCE, which wins over CLICOLOR=0; otherwise color follows
// whether stdout is a terminal.
func ShouldUseColor() bool {
	return colorEnabled(os.LookupEnv, term.IsTerminal(int(os.Stdout.Fd())))
}

func colorEnabled(lookup func(string) (string, bool), tty bool) bool {
	env := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	switch {
	case env("NO_COLOR") != "":
		return false
	case env("CLICOLOR_FORCE") == "1":
		return true
	case env("CLICOLOR") == "0":
		return false
	}
	return tty
}
