package config

import (
	"flag"
	"os"

	"github.com/cgeo/cgeofiles/internal/flagx"
)

// Flags lists every global flag owned by this package, including the JSON
// selectors. The command dispatcher strips them before reading a subcommand.
var Flags = []string{
	"-c", "-config",
	"-d", "-db", "-a", "-inbox", "-settle", "-log-level", "-log-format",
	"-s3-region", "-s3-endpoint",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string           data directory; re-derives the default paths below it
//	-db string          SQLite DSN
//	-a string           HTTP listen address for "serve"
//	-inbox string       inbox directory for "serve" ("" disables it)
//	-settle duration    inbox settle interval, e.g. 2s
//	-log-level string   debug, info, warn or error
//	-log-format string  text, json or console
//	-s3-region string   region of the S3 backend
//	-s3-endpoint string custom S3 endpoint, e.g. a MinIO URL
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with subcommand flags.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], Flags[2:])

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	dataDir := fs.String("d", "", "data directory")
	fs.StringVar(&cfg.DatabaseDSN, "db", cfg.DatabaseDSN, "SQLite DSN")
	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.InboxDir, "inbox", cfg.InboxDir, "inbox directory")
	fs.DurationVar(&cfg.InboxSettle, "settle", cfg.InboxSettle, "inbox settle interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3 endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *dataDir != "" {
		explicit := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		rebase(cfg, *dataDir, explicit)
	}
}

// rebase moves the derived defaults below dir, leaving the values given
// explicitly on the command line alone.
func rebase(cfg *Config, dir string, explicit map[string]bool) {
	keep := *cfg
	s3 := cfg.S3
	cfg.DataDir = dir
	cfg.LoadDefaults()
	cfg.S3 = s3
	cfg.HTTPAddr = keep.HTTPAddr
	cfg.InboxSettle = keep.InboxSettle
	cfg.LogLevel = keep.LogLevel
	cfg.LogFormat = keep.LogFormat
	if explicit["db"] {
		cfg.DatabaseDSN = keep.DatabaseDSN
	}
	if explicit["inbox"] {
		cfg.InboxDir = keep.InboxDir
	}
}
