package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/cgeo/cgeofiles/internal/common"
)

func (a *App) maps(ctx context.Context) int {
	list, err := a.app.Maps.List(ctx)
	if err != nil {
		a.fail("%v", err)
		return exitError
	}
	if len(list) == 0 {
		a.info("no offline maps")
		return exitOK
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSOURCE\tURI")
	for _, m := range list {
		origin := "-"
		src, err := a.app.Maps.Source(ctx, m.Name)
		switch {
		case err == nil:
			origin = src.URL
		case !errors.Is(err, common.ErrorNotFound):
			a.fail("%v", err)
			return exitError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, humanize.IBytes(uint64(m.Size)), origin, m.URI)
	}
	if err := tw.Flush(); err != nil {
		a.fail("%v", err)
		return exitError
	}
	return exitOK
}

func (a *App) rescan(ctx context.Context) int {
	res, err := a.app.Maps.Rescan(ctx)
	if err != nil {
		a.fail("%v", err)
		return exitError
	}
	a.success("%d map files in %s, %d removed", res.Found, res.Location.Display(), res.Removed)
	return exitOK
}
