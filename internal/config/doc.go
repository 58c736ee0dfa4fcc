// Package config loads runtime configuration for cgeofiles.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults), all below DataDir.
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "2s"
// or integer nanoseconds:
//
//	{
//	  "data_dir": "/var/lib/cgeo",
//	  "http_addr": "127.0.0.1:8787",
//	  "inbox_settle": "2s",
//	  "log_format": "json",
//	  "s3": {"endpoint": "http://127.0.0.1:9000", "use_path_style": true}
//	}
//
// This package does not read environment variables directly; the S3 SDK may
// still pick up credentials from the environment when none are configured.
package config
