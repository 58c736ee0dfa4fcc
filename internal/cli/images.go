package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/cgeo/cgeofiles/internal/images"
)

const imagesRequestCode = 0x4000

// pickLauncher stands in for the platform chooser: the selection is already
// known from the command line, so Launch only records the request.
type pickLauncher struct {
	code   int
	intent images.Intent
}

func (l *pickLauncher) Launch(requestCode int, intent images.Intent) error {
	l.code = requestCode
	l.intent = intent
	return nil
}

type toaster struct {
	a *App
}

func (t toaster) Toast(msg string) {
	t.a.info("%s", msg)
}

func (a *App) images(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("images", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	maxXY := fs.Int("max", 0, "scale so the longer side is at most this many pixels")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(a.errOut, "Usage: images [-max px] <uri>...")
		return exitUsage
	}

	launcher := &pickLauncher{}
	helper := a.app.Images(launcher, toaster{a: a}, imagesRequestCode)

	var got []images.Image
	helper.MultipleFromStorage(*maxXY, true, func(imgs []images.Image) {
		got = imgs
	})
	helper.OnResult(ctx, launcher.code, images.ResultOK, &images.ResultData{URIs: fs.Args()})

	if len(got) == 0 {
		a.fail("no image could be imported")
		return exitError
	}
	for _, img := range got {
		fmt.Fprintln(a.out, img.URI)
	}
	if len(got) < fs.NArg() {
		a.warn("%d of %d images imported", len(got), fs.NArg())
		return exitError
	}
	return exitOK
}
