package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestSettingsDefaults(t *testing.T) {
	s, err := SettingsFromEnv(lookupFrom(nil))
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	if s.Timezone != "America/Sao_Paulo" {
		t.Errorf("Timezone = %q", s.Timezone)
	}
	if s.PollInterval != 5*time.Second || s.LockTimeout != 300*time.Second {
		t.Errorf("intervals = %v / %v", s.PollInterval, s.LockTimeout)
	}
	if s.MaxAttempts != 3 || s.Workers != 1 {
		t.Errorf("MaxAttempts=%d Workers=%d", s.MaxAttempts, s.Workers)
	}
	if !strings.Contains(s.WorkerID, "-") {
		t.Errorf("WorkerID = %q, want hostname-pid", s.WorkerID)
	}
	if s.UseObjectStore() {
		t.Error("object store should be off by default")
	}
}

func TestSettingsOverrides(t *testing.T) {
	s, err := SettingsFromEnv(lookupFrom(map[string]string{
		"FOOTFALL_DATABASE_PATH":     "/data/f.db",
		"FOOTFALL_TIMEZONE":          "UTC",
		"FOOTFALL_JOB_POLL_INTERVAL": "2",
		"FOOTFALL_JOB_LOCK_TIMEOUT":  "90s",
		"FOOTFALL_WORKER_ID":         "w-1",
		"FOOTFALL_WORKERS":           "4",
		"FOOTFALL_S3_ENDPOINT":       "minio:9000",
		"FOOTFALL_S3_BUCKET":         "faces",
		"FOOTFALL_S3_SECURE":         "true",
	}))
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	if s.DatabasePath != "/data/f.db" || s.Timezone != "UTC" || s.WorkerID != "w-1" || s.Workers != 4 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.PollInterval != 2*time.Second || s.LockTimeout != 90*time.Second {
		t.Errorf("intervals = %v / %v", s.PollInterval, s.LockTimeout)
	}
	if !s.UseObjectStore() || !s.S3Secure {
		t.Error("object store settings not applied")
	}
	loc, err := s.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestSettingsErrors(t *testing.T) {
	tests := map[string]string{
		"FOOTFALL_TIMEZONE":          "Nowhere/Land",
		"FOOTFALL_WORKERS":           "zero",
		"FOOTFALL_JOB_POLL_INTERVAL": "soon",
		"FOOTFALL_MAX_ATTEMPTS":      "0",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			if _, err := SettingsFromEnv(lookupFrom(map[string]string{k: v})); err == nil {
				t.Errorf("%s=%s: expected error", k, v)
			}
		})
	}
}

func TestLoadSettingsDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("FOOTFALL_CONFIG_DIR=/etc/footfall\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FOOTFALL_CONFIG_DIR", "")
	os.Unsetenv("FOOTFALL_CONFIG_DIR")

	s, err := LoadSettings(envFile, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.ConfigDir != "/etc/footfall" {
		t.Errorf("ConfigDir = %q", s.ConfigDir)
	}
}
