package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv(EnvTool, "/opt/gphoto2/bin/gphoto2")
	t.Setenv(EnvIdentifyTimeout, "5")
	t.Setenv(EnvSettleInterval, "1500ms")
	t.Setenv(EnvMode, "Sequential")
	t.Setenv(EnvVerifyIdentities, "off")

	cfg := FromEnv()
	if cfg.Tool != "/opt/gphoto2/bin/gphoto2" {
		t.Fatalf("tool mismatch: %s", cfg.Tool)
	}
	if cfg.IdentifyTimeout != 5*time.Second {
		t.Fatalf("bare integer should be seconds, got %s", cfg.IdentifyTimeout)
	}
	if cfg.SettleInterval != 1500*time.Millisecond {
		t.Fatalf("settle interval mismatch: %s", cfg.SettleInterval)
	}
	if cfg.Mode != "sequential" {
		t.Fatalf("mode should be lowercased, got %s", cfg.Mode)
	}
	if cfg.VerifyIdentities {
		t.Fatal("verify identities should be disabled")
	}
	if cfg.FilenamePattern != DefaultFilenamePattern {
		t.Fatalf("unset key should keep default, got %s", cfg.FilenamePattern)
	}
}

func TestLoadFileOnlyOverridesDefinedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scanrig.toml")
	content := `
captures_dir = "/data/scans"
capture_timeout = "45s"
verify_identities = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Defaults()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.CapturesDir != "/data/scans" {
		t.Fatalf("captures dir mismatch: %s", cfg.CapturesDir)
	}
	if cfg.CaptureTimeout != 45*time.Second {
		t.Fatalf("capture timeout mismatch: %s", cfg.CaptureTimeout)
	}
	if cfg.VerifyIdentities {
		t.Fatal("verify identities should be overridden to false")
	}
	if !cfg.Journal {
		t.Fatal("journal should keep its default when the key is absent")
	}
	if cfg.Tool != DefaultTool {
		t.Fatalf("tool should keep its default, got %s", cfg.Tool)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanrig.toml")
	if err := os.WriteFile(path, []byte(`shutter = "fast"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := Defaults()
	if err := cfg.LoadFile(path); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Rig)
		wantErr bool
	}{
		{"defaults", func(*Rig) {}, false},
		{"serial alias", func(r *Rig) { r.Mode = "serial" }, false},
		{"empty tool", func(r *Rig) { r.Tool = " " }, true},
		{"unknown mode", func(r *Rig) { r.Mode = "burst" }, true},
		{"negative settle", func(r *Rig) { r.SettleInterval = -time.Second }, true},
		{"zero identify timeout", func(r *Rig) { r.IdentifyTimeout = 0 }, true},
		{"pattern without number", func(r *Rig) { r.FilenamePattern = "img.jpg" }, true},
		{"pattern with two numbers", func(r *Rig) { r.FilenamePattern = "img%d-%d.jpg" }, true},
		{"pattern with directory", func(r *Rig) { r.FilenamePattern = "raw/img%05d.jpg" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
