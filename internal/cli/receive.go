package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/receiver"
)

func (a *App) receive(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	name := fs.String("name", "", "file name hint")
	url := fs.String("url", "", "origin URL of the download")
	date := fs.Int64("date", 0, "origin date (unix seconds)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "Usage: receive [-name n] [-url u] [-date unix] <uri>")
		return exitUsage
	}

	req := receiver.Request{Source: fs.Arg(0), Filename: *name, OriginURL: *url}
	if *date > 0 {
		req.OriginDate = time.Unix(*date, 0).UTC()
	}

	drawn := false
	var onProgress receiver.ProgressFunc
	if a.tty {
		onProgress = func(p receiver.Progress) {
			fmt.Fprintf(a.out, "\r\033[K%s", p.Text)
			drawn = true
		}
	}

	res := a.app.Receiver.Receive(ctx, req, onProgress)
	if drawn {
		fmt.Fprintln(a.out)
	}

	msg := res.Message(a.app.Catalog)
	switch res.State {
	case receiver.StateSuccess:
		a.success("%s", msg)
		bold.Fprintf(a.out, "%s\n", res.Ref)
		return exitOK
	case receiver.StateCancelled:
		a.warn("%s", msg)
		return exitError
	default:
		if errors.Is(res.Err, common.ErrorBusy) {
			a.fail("another map file is being received")
			return exitError
		}
		a.fail("%s", msg)
		if res.Err != nil {
			a.fail("%v", res.Err)
		}
		return exitError
	}
}
