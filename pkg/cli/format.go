// Package cli provides console formatting helpers for the nbseed commands.
package cli

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// colorEnabled is false when NO_COLOR is set (no-color.org) or stdout is not
// a terminal.
var colorEnabled = detectColor(os.Getenv("NO_COLOR"), os.Stdout.Fd())

func detectColor(noColor string, fd uintptr) bool {
	if noColor != "" {
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// SetColor forces colors on or off, e.g. for --no-color.
func SetColor(on bool) { colorEnabled = on }

// ColorEnabled reports whether the helpers below emit ANSI codes.
func ColorEnabled() bool { return colorEnabled }

const (
	sgrReset  = "\033[0m"
	sgrBold   = "\033[1m"
	sgrDim    = "\033[2m"
	sgrRed    = "\033[31m"
	sgrGreen  = "\033[32m"
	sgrYellow = "\033[33m"
)

func paint(sgr, s string) string {
	if !colorEnabled {
		return s
	}
	return sgr + s + sgrReset
}

// Green marks objects that were created.
func Green(s string) string { return paint(sgrGreen, s) }

// Yellow marks objects that already existed or were skipped.
func Yellow(s string) string { return paint(sgrYellow, s) }

// Red marks failures.
func Red(s string) string { return paint(sgrRed, s) }

func Bold(s string) string { return paint(sgrBold, s) }
func Dim(s string) string  { return paint(sgrDim, s) }

// DotPad pads name with a space and dots out to width, so step results line
// up: DotPad("devices", 16) is "devices ........".
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}
