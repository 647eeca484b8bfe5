// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		fn   func() (string, error)
		want string
	}{
		{"config from env", "XDG_CONFIG_HOME", "/custom/config", ConfigDir, "/custom/config/passy"},
		{"config default", "XDG_CONFIG_HOME", "", ConfigDir, "/home/testuser/.config/passy"},
		{"data from env", "XDG_DATA_HOME", "/custom/data", DataDir, "/custom/data/passy"},
		{"data default", "XDG_DATA_HOME", "", DataDir, "/home/testuser/.local/share/passy"},
		{"state from env", "XDG_STATE_HOME", "/custom/state", StateDir, "/custom/state/passy"},
		{"state default", "XDG_STATE_HOME", "", StateDir, "/home/testuser/.local/state/passy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", "/home/testuser")
			t.Setenv(tt.env, tt.val)
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir_NoHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	if _, err := ConfigDir(); err == nil {
		t.Fatal("ConfigDir() expected error without HOME")
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	got, err := ConfigFile()
	if err != nil {
		t.Fatalf("ConfigFile() error = %v", err)
	}
	if want := "/custom/config/passy/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestAppdataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	got, err := AppdataDir()
	if err != nil {
		t.Fatalf("AppdataDir() error = %v", err)
	}
	if want := "/custom/data/passy/appdata"; got != want {
		t.Errorf("AppdataDir() = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	testPath := filepath.Join(t.TempDir(), "nested", "dir")

	if err := EnsureDir(testPath); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	// idempotent
	if err := EnsureDir(testPath); err != nil {
		t.Fatalf("second EnsureDir() error = %v", err)
	}

	info, err := os.Stat(testPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("EnsureDir() permissions = %o, want %o", perm, 0o700)
	}
}
