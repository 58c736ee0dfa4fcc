package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/cgeo/cgeofiles/internal/folders"
)

func (a *App) folders(ctx context.Context) int {
	resolver := a.app.Resolver

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCATION")
	for _, id := range folders.All() {
		info := resolver.Info(ctx, id)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.Name, info.Display)
	}
	if err := tw.Flush(); err != nil {
		a.fail("%v", err)
		return exitError
	}
	return exitOK
}

func (a *App) setFolder(ctx context.Context, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(a.errOut, "Usage: set-folder <ID> <location>")
		return exitUsage
	}
	id, err := folders.Parse(args[0])
	if err != nil {
		a.fail("%v", err)
		return exitUsage
	}
	loc, err := parseUserLocation(args[1])
	if err != nil {
		a.fail("%v", err)
		return exitUsage
	}

	if err := a.app.Storage.SetUserDefinedFolder(ctx, id, &loc); err != nil {
		a.fail("%v", err)
		return exitError
	}
	a.success("%s: %s", a.app.Resolver.DisplayName(id), a.app.Resolver.DisplayValue(ctx, id))
	return exitOK
}

func (a *App) resetFolder(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(a.errOut, "Usage: reset-folder <ID>")
		return exitUsage
	}
	id, err := folders.Parse(args[0])
	if err != nil {
		a.fail("%v", err)
		return exitUsage
	}

	if err := a.app.Storage.SetUserDefinedFolder(ctx, id, nil); err != nil {
		a.fail("%v", err)
		return exitError
	}
	a.success("%s: %s", a.app.Resolver.DisplayName(id), a.app.Resolver.DisplayValue(ctx, id))
	return exitOK
}

// parseUserLocation accepts relative paths on the command line.
func parseUserLocation(s string) (folders.Location, error) {
	if !strings.Contains(s, ":") && !filepath.IsAbs(s) {
		abs, err := filepath.Abs(s)
		if err != nil {
			return folders.Location{}, err
		}
		s = abs
	}
	return folders.ParseLocation(s)
}
