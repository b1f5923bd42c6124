// Package terminal provides VT100 terminal codes and a windows
// implementation of that.
package terminal

import (
	"io"
	"os"
	"runtime"
	"sync"

	colorable "github.com/mattn/go-colorable"
)

// VT100 codes
const (
	EraseLine         = "\x1b[2K"
	MoveToStartOfLine = "\x1b[1G"
	MoveUp            = "\x1b[1A"

	Reset  = "\x1b[0m"
	Bright = "\x1b[1m"
	Dim    = "\x1b[2m"

	RedFg    = "\x1b[31m"
	GreenFg  = "\x1b[32m"
	YellowFg = "\x1b[33m"
	BlueFg   = "\x1b[34m"
	CyanFg   = "\x1b[36m"
)

var (
	// make sure that start is only called once
	once sync.Once
)

// Start the terminal - must be called before use
func Start() {
	once.Do(func() {
		f := os.Stdout
		if !IsTerminal(int(f.Fd())) {
			// If stdout is not a tty, remove escape codes
			Out = colorable.NewNonColorable(f)
		} else if runtime.GOOS == "windows" && os.Getenv("TERM") != "" {
			// If TERM is set just use stdout
			Out = f
		} else {
			Out = colorable.NewColorable(f)
		}
	})
}

// WriteString writes the string passed in to the terminal
func WriteString(s string) {
	Write([]byte(s))
}

// Out is an io.Writer which can be used to write to the terminal
// e.g. for use with fmt.Fprintf(terminal.Out, "terminal fun: %d\n", n)
var Out io.Writer

// Write sends out to the VT100 terminal.
// It will initialise the terminal if this is the first call.
func Write(out []byte) {
	Start()
	_, _ = Out.Write(out)
}

// Colorize wraps s in the color code given if stdout is a terminal
func Colorize(color, s string) string {
	if !IsTerminal(int(os.Stdout.Fd())) {
		return s
	}
	return color + s + Reset
}
