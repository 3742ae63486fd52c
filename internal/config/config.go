package config

import (
	"fmt"
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	// OverrideOrigin, when set, wins over the origin presented by clients
	// when composing session URLs.
	OverrideOrigin string `envconfig:"OVERRIDE_ORIGIN" default:""`
	// Secret is the MAC key for session tokens. A random secret is generated
	// at startup when empty, which invalidates tokens across restarts.
	Secret string `envconfig:"SECRET" default:""`
	// AdminPasswordHash is the bcrypt hash admitting admin API logins.
	// The admin API stays disabled while it is empty.
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" default:""`
	LogPath           string `envconfig:"LOG_PATH" default:""`

	// TLS for the listener. EnableTLS with no cert files serves a generated
	// self-signed certificate.
	EnableTLS   bool   `envconfig:"ENABLE_TLS" default:"false"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE" default:""`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE" default:""`

	// Idle session reaping
	SessionIdleTimeout string `envconfig:"SESSION_IDLE_TIMEOUT" default:"1h"`
	ReapSchedule       string `envconfig:"REAP_SCHEDULE" default:"@every 1m"`

	// ConfigFile points at an optional YAML file layered over the
	// environment.
	ConfigFile string `envconfig:"CONFIG_FILE" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TIDECAST", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.ConfigFile == "" {
		return
	}
	if err := applyFile(&Cfg, Cfg.ConfigFile); err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
}

// fileSettings mirrors Settings with pointer fields so that only keys present
// in the YAML file override the environment.
type fileSettings struct {
	ListenAddr         *string `yaml:"listen_addr"`
	OverrideOrigin     *string `yaml:"override_origin"`
	Secret             *string `yaml:"secret"`
	AdminPasswordHash  *string `yaml:"admin_password_hash"`
	LogPath            *string `yaml:"log_path"`
	EnableTLS          *bool   `yaml:"enable_tls"`
	TLSCertFile        *string `yaml:"tls_cert_file"`
	TLSKeyFile         *string `yaml:"tls_key_file"`
	SessionIdleTimeout *string `yaml:"session_idle_timeout"`
	ReapSchedule       *string `yaml:"reap_schedule"`
}

func applyFile(cfg *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var file fileSettings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&cfg.ListenAddr, file.ListenAddr)
	apply(&cfg.OverrideOrigin, file.OverrideOrigin)
	apply(&cfg.Secret, file.Secret)
	apply(&cfg.AdminPasswordHash, file.AdminPasswordHash)
	apply(&cfg.LogPath, file.LogPath)
	if file.EnableTLS != nil {
		cfg.EnableTLS = *file.EnableTLS
	}
	apply(&cfg.TLSCertFile, file.TLSCertFile)
	apply(&cfg.TLSKeyFile, file.TLSKeyFile)
	apply(&cfg.SessionIdleTimeout, file.SessionIdleTimeout)
	apply(&cfg.ReapSchedule, file.ReapSchedule)
	return nil
}
