package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cgeo/cgeofiles/internal/app"
	"github.com/cgeo/cgeofiles/internal/cli"
	"github.com/cgeo/cgeofiles/internal/config"
	"github.com/cgeo/cgeofiles/internal/flagx"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.LoadConfig()
	logger := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer a.Close()

	return cli.NewApp(a, os.Stdout, os.Stderr).Run(ctx, flagx.StripArgs(os.Args[1:], config.Flags))
}
