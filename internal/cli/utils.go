package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	bold   = color.New(color.Bold)
)

type fder interface {
	Fd() uintptr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *App) success(format string, args ...any) {
	green.Fprintf(a.out, "SUCC: "+format+"\n", args...)
}

func (a *App) warn(format string, args ...any) {
	yellow.Fprintf(a.out, "WARN: "+format+"\n", args...)
}

func (a *App) info(format string, args ...any) {
	fmt.Fprintf(a.out, "INFO: "+format+"\n", args...)
}

func (a *App) fail(format string, args ...any) {
	red.Fprintf(a.errOut, "ERRO: "+format+"\n", args...)
}
