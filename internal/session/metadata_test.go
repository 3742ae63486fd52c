package session

import (
	"strings"
	"testing"
)

func TestParseMetadata_FullTelemetry(t *testing.T) {
	md := ParseMetadata("alice,bob|cpuX|4096MB|Linux 5.15|KEY", "", nil)

	if md.Name != "alice,bob" {
		t.Errorf("expected name %q, got %q", "alice,bob", md.Name)
	}
	if md.CPU != "cpuX" {
		t.Errorf("expected cpu cpuX, got %q", md.CPU)
	}
	if md.MemoryMB != 4096 {
		t.Errorf("expected memory 4096, got %d", md.MemoryMB)
	}
	if md.OSInfo != "Linux 5.15" {
		t.Errorf("expected os info %q, got %q", "Linux 5.15", md.OSInfo)
	}
	if md.EncryptionKey != "KEY" {
		t.Errorf("expected key KEY, got %q", md.EncryptionKey)
	}
}

func TestParseMetadata_OSInfoRejoined(t *testing.T) {
	md := ParseMetadata("bob@box|arm64|512MB|Ubuntu|22.04|LTS|SECRET", "", nil)

	if md.OSInfo != "Ubuntu 22.04 LTS" {
		t.Errorf("expected rejoined os info, got %q", md.OSInfo)
	}
	if md.EncryptionKey != "SECRET" {
		t.Errorf("expected key SECRET, got %q", md.EncryptionKey)
	}
	if md.Hostname != "box" {
		t.Errorf("expected hostname box, got %q", md.Hostname)
	}
}

func TestParseMetadata_BadMemoryDefaultsToZero(t *testing.T) {
	md := ParseMetadata("u@h|cpu|lotsMB|Linux|KEY", "", nil)
	if md.MemoryMB != 0 {
		t.Errorf("expected memory 0 on parse failure, got %d", md.MemoryMB)
	}
}

func TestParseMetadata_TwoFields(t *testing.T) {
	md := ParseMetadata("carol@laptop|KEY2", "", nil)

	if md.Name != "carol@laptop" {
		t.Errorf("expected name carol@laptop, got %q", md.Name)
	}
	if md.EncryptionKey != "KEY2" {
		t.Errorf("expected key KEY2, got %q", md.EncryptionKey)
	}
	if md.CPU != "Unknown" || md.MemoryMB != 0 || md.OSInfo != "Unknown OS" {
		t.Errorf("expected telemetry defaults, got %q/%d/%q", md.CPU, md.MemoryMB, md.OSInfo)
	}
}

func TestParseMetadata_NameOnly(t *testing.T) {
	md := ParseMetadata("dave@server", "", nil)

	if md.Name != "dave@server" {
		t.Errorf("expected name dave@server, got %q", md.Name)
	}
	if md.EncryptionKey != "" {
		t.Errorf("expected no key, got %q", md.EncryptionKey)
	}
	if md.Hostname != "server" {
		t.Errorf("expected hostname server, got %q", md.Hostname)
	}
}

func TestParseMetadata_HostnameWithoutAt(t *testing.T) {
	md := ParseMetadata("standalone", "", nil)
	if md.Hostname != "standalone" {
		t.Errorf("expected hostname to fall back to name, got %q", md.Hostname)
	}
}

func TestSplitReconnect(t *testing.T) {
	oldID, rest, ok := SplitReconnect("RECONNECT:abc123XYZ0|user@host|KEY")
	if !ok {
		t.Fatal("expected reconnect marker to be recognized")
	}
	if oldID != "abc123XYZ0" {
		t.Errorf("expected old ID abc123XYZ0, got %q", oldID)
	}
	if rest != "user@host|KEY" {
		t.Errorf("expected rest %q, got %q", "user@host|KEY", rest)
	}
}

func TestSplitReconnect_NoMarker(t *testing.T) {
	if _, _, ok := SplitReconnect("user@host|KEY"); ok {
		t.Error("expected no reconnect for plain name")
	}
}

func TestSplitReconnect_NoSeparator(t *testing.T) {
	if _, _, ok := SplitReconnect("RECONNECT:orphan"); ok {
		t.Error("expected no reconnect without a pipe separator")
	}
}

func TestRandomID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := RandomID(10)
		if len(id) != 10 {
			t.Fatalf("expected 10 characters, got %d", len(id))
		}
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("unexpected character %q in id %q", c, id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}
