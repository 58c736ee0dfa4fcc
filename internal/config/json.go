package config

import (
	"encoding/json"
	"os"

	"github.com/cgeo/cgeofiles/internal/flagx"
	"github.com/cgeo/cgeofiles/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "2s" or as integer nanoseconds.
type JsonConfig struct {
	DataDir      string         `json:"data_dir"`
	LegacyPublic string         `json:"legacy_public_root"`
	Documents    string         `json:"documents_root"`
	Private      string         `json:"private_root"`
	DatabaseDSN  string         `json:"database_dsn"`
	HTTPAddr     string         `json:"http_addr"`
	InboxDir     *string        `json:"inbox_dir"`
	InboxSettle  timex.Duration `json:"inbox_settle"`
	LogLevel     string         `json:"log_level"`
	LogFormat    string         `json:"log_format"`
	S3           JsonS3         `json:"s3"`
}

type JsonS3 struct {
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	UsePathStyle bool   `json:"use_path_style"`
	TmpDir       string `json:"tmp_dir"`
}

// parseJson overlays Config with values loaded from a JSON file selected
// with -c or -config. Absent keys keep their current value; data_dir is
// applied first so the other paths default below it. inbox_dir may be set
// to "" to disable the inbox.
//
// Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
		cfg.LoadDefaults()
	}
	overlay(&cfg.LegacyPublic, jc.LegacyPublic)
	overlay(&cfg.Documents, jc.Documents)
	overlay(&cfg.Private, jc.Private)
	overlay(&cfg.DatabaseDSN, jc.DatabaseDSN)
	overlay(&cfg.HTTPAddr, jc.HTTPAddr)
	if jc.InboxDir != nil {
		cfg.InboxDir = *jc.InboxDir
	}
	if jc.InboxSettle.Duration > 0 {
		cfg.InboxSettle = jc.InboxSettle.Duration
	}
	overlay(&cfg.LogLevel, jc.LogLevel)
	overlay(&cfg.LogFormat, jc.LogFormat)

	cfg.S3 = S3{
		Region:       jc.S3.Region,
		Endpoint:     jc.S3.Endpoint,
		AccessKey:    jc.S3.AccessKey,
		SecretKey:    jc.S3.SecretKey,
		UsePathStyle: jc.S3.UsePathStyle,
		TmpDir:       jc.S3.TmpDir,
	}
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
