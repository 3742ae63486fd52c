package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	Cfg = Settings{}
	Load()

	if Cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %q", Cfg.ListenAddr)
	}
	if Cfg.SessionIdleTimeout != "1h" {
		t.Errorf("expected default idle timeout 1h, got %q", Cfg.SessionIdleTimeout)
	}
	if Cfg.ReapSchedule != "@every 1m" {
		t.Errorf("expected default reap schedule, got %q", Cfg.ReapSchedule)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIDECAST_LISTEN_ADDR", ":9999")
	t.Setenv("TIDECAST_OVERRIDE_ORIGIN", "https://operator.example")

	Cfg = Settings{}
	Load()

	if Cfg.ListenAddr != ":9999" {
		t.Errorf("expected listen addr from env, got %q", Cfg.ListenAddr)
	}
	if Cfg.OverrideOrigin != "https://operator.example" {
		t.Errorf("expected override origin from env, got %q", Cfg.OverrideOrigin)
	}
}

func TestConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidecast.yaml")
	body := "listen_addr: \":7070\"\nsecret: \"file-secret\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TIDECAST_LISTEN_ADDR", ":9999")
	t.Setenv("TIDECAST_CONFIG_FILE", path)

	Cfg = Settings{}
	Load()

	// Keys present in the file win over the environment.
	if Cfg.ListenAddr != ":7070" {
		t.Errorf("expected listen addr from file, got %q", Cfg.ListenAddr)
	}
	if Cfg.Secret != "file-secret" {
		t.Errorf("expected secret from file, got %q", Cfg.Secret)
	}
	// Keys absent from the file keep their env/default values.
	if Cfg.SessionIdleTimeout != "1h" {
		t.Errorf("expected idle timeout default, got %q", Cfg.SessionIdleTimeout)
	}
}
