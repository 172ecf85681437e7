package config

import (
	"os"
	"testing"
	"time"
)

// Test environment variable keys.
const (
	testEnvTGAPIID   = "TG_API_ID"
	testEnvTGAPIHash = "TG_API_HASH"
)

const testErrLoad = "Load() error = %v"

func setRequiredEnvVars(t *testing.T) {
	t.Helper()

	t.Setenv(testEnvTGAPIID, "12345")
	t.Setenv(testEnvTGAPIHash, "abcdef123456")
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv(testEnvTGAPIID)
	os.Unsetenv(testEnvTGAPIHash)

	_, err := Load()
	if err == nil {
		t.Error("expected error for missing required env vars")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.TGAPIID != 12345 {
		t.Errorf("TGAPIID = %d, want %d", cfg.TGAPIID, 12345)
	}

	if cfg.TGAPIHash != "abcdef123456" {
		t.Errorf("TGAPIHash = %q, want %q", cfg.TGAPIHash, "abcdef123456")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnvVars(t)

	// Explicitly unset variables that might be in .env to test actual defaults
	os.Unsetenv("APP_ENV")
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("DISCOVERY_DB_PATH")
	os.Unsetenv("GROUPS_CONFIG_PATH")
	os.Unsetenv("SCAN_PAGE_SIZE")
	os.Unsetenv("SCAN_BATCH_DELAY")
	os.Unsetenv("SCAN_MAX_CHATS")
	os.Unsetenv("TG_SESSION_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf(testErrLoad, err)
	}

	if cfg.AppEnv != "local" {
		t.Errorf("AppEnv default = %q, want %q", cfg.AppEnv, "local")
	}

	if cfg.HTTPPort != 8002 {
		t.Errorf("HTTPPort default = %d, want %d", cfg.HTTPPort, 8002)
	}

	if cfg.DiscoveryDBPath != "./data/discovery.db" {
		t.Errorf("DiscoveryDBPath default = %q, want %q", cfg.DiscoveryDBPath, "./data/discovery.db")
	}

	if cfg.GroupsConfigPath != "./data/group_configurations.json" {
		t.Errorf("GroupsConfigPath default = %q, want %q", cfg.GroupsConfigPath, "./data/group_configurations.json")
	}

	if cfg.ScanPageSize != 100 {
		t.Errorf("ScanPageSize default = %d, want %d", cfg.ScanPageSize, 100)
	}

	if cfg.ScanBatchDelay != 500*time.Millisecond {
		t.Errorf("ScanBatchDelay default = %v, want %v", cfg.ScanBatchDelay, 500*time.Millisecond)
	}

	if cfg.ScanMaxChats != 1000 {
		t.Errorf("ScanMaxChats default = %d, want %d", cfg.ScanMaxChats, 1000)
	}

	if cfg.TGSessionPath != "./tg.session" {
		t.Errorf("TGSessionPath default = %q, want %q", cfg.TGSessionPath, "./tg.session")
	}
}

func TestLoad_InvalidNumeric(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv(testEnvTGAPIID, "not-a-number")

	_, err := Load()
	if err == nil {
		t.Error("expected error for invalid TG_API_ID")
	}
}
