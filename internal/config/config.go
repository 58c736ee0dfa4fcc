package config

import (
	"path/filepath"
	"time"
)

// S3 holds the optional object-storage backend settings. The backend is only
// wired when Region or Endpoint is set.
type S3 struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	TmpDir       string
}

// Enabled reports whether an S3 backend should be built.
func (s S3) Enabled() bool {
	return s.Region != "" || s.Endpoint != ""
}

// Config holds runtime settings for cgeofiles.
//
// Fields:
//   - DataDir: base directory; the defaults of the other paths live below it.
//   - LegacyPublic, Documents, Private: the three storage roots the folder
//     defaults are built from. An empty root is treated as unavailable.
//   - DatabaseDSN: SQLite DSN for settings and the offline map registry.
//   - HTTPAddr: listen address of the control surface started by "serve".
//   - InboxDir, InboxSettle: directory watched by "serve" and how long a file
//     must stay unchanged before it is received. An empty dir disables it.
//   - LogLevel, LogFormat: "debug".."error"; "text", "json" or "console".
type Config struct {
	DataDir      string
	LegacyPublic string
	Documents    string
	Private      string
	DatabaseDSN  string
	HTTPAddr     string
	InboxDir     string
	InboxSettle  time.Duration
	LogLevel     string
	LogFormat    string
	S3           S3
}

// LoadDefaults populates c with sensible defaults relative to DataDir. When
// DataDir is empty "./cgeo-data" is used.
func (c *Config) LoadDefaults() {
	if c.DataDir == "" {
		c.DataDir = "cgeo-data"
	}
	c.LegacyPublic = filepath.Join(c.DataDir, "public")
	c.Documents = filepath.Join(c.DataDir, "documents")
	c.Private = filepath.Join(c.DataDir, "private")
	c.DatabaseDSN = "file:" + filepath.Join(c.DataDir, "cgeo.db")
	c.HTTPAddr = "127.0.0.1:8787"
	c.InboxDir = filepath.Join(c.DataDir, "inbox")
	c.InboxSettle = 2 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.S3 = S3{}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
