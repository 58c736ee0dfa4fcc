package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/cgeo/cgeofiles/internal/app"
	"github.com/cgeo/cgeofiles/internal/buildinfo"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `Usage: cgeofiles [global flags] <command> [args]

Commands:
  receive [-name n] [-url u] [-date unix] <uri>
  folders
  set-folder <ID> <location>
  reset-folder <ID>
  maps
  rescan
  images [-max px] <uri>...
  serve
  version`

type App struct {
	app    *app.App
	out    io.Writer
	errOut io.Writer
	tty    bool
}

// NewApp writes command output to out and diagnostics to errOut. Progress
// is drawn inline only when out is a terminal.
func NewApp(a *app.App, out, errOut io.Writer) *App {
	return &App{app: a, out: out, errOut: errOut, tty: isTerminal(out)}
}

// Run executes the command in args (global flags already removed) and
// returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.errOut, usage)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "receive":
		return a.receive(ctx, rest)
	case "folders":
		return a.folders(ctx)
	case "set-folder":
		return a.setFolder(ctx, rest)
	case "reset-folder":
		return a.resetFolder(ctx, rest)
	case "maps":
		return a.maps(ctx)
	case "rescan":
		return a.rescan(ctx)
	case "images":
		return a.images(ctx, rest)
	case "serve":
		return a.serve(ctx)
	case "version":
		buildinfo.PrintBuildData(a.out)
		return exitOK
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(a.out, usage)
		return exitOK
	default:
		a.fail("unknown command: %s", cmd)
		fmt.Fprintln(a.errOut, usage)
		return exitUsage
	}
}

func (a *App) serve(ctx context.Context) int {
	if err := a.app.Serve(ctx); err != nil {
		a.fail("%v", err)
		return exitError
	}
	return exitOK
}
