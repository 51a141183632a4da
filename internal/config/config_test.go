package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 3000 {
		t.Errorf("gateway.port = %d, want 3000", cfg.Gateway.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if cfg.Tracker.AckTimeout != 10*time.Second {
		t.Errorf("tracker.ack_timeout = %v, want 10s", cfg.Tracker.AckTimeout)
	}
	if cfg.Tracker.PollInterval != 3*time.Second {
		t.Errorf("tracker.poll_interval = %v, want 3s", cfg.Tracker.PollInterval)
	}
	if cfg.Tracker.MaxPollDuration != 60*time.Second {
		t.Errorf("tracker.max_poll_duration = %v, want 60s", cfg.Tracker.MaxPollDuration)
	}
	if cfg.Tracker.MaxPending != 1000 {
		t.Errorf("tracker.max_pending = %d, want 1000", cfg.Tracker.MaxPending)
	}
	if cfg.Receipts.Enabled {
		t.Error("receipts.enabled = true, want false")
	}
	if cfg.Maintenance.SweepSpec != "@every 30s" {
		t.Errorf("maintenance.sweep_spec = %q", cfg.Maintenance.SweepSpec)
	}
	if cfg.DMS.Timeout != 15*time.Second {
		t.Errorf("dms.timeout = %v, want 15s", cfg.DMS.Timeout)
	}
}

func TestLoad_FromFile(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9000
dms:
  channel_id: chan-1
  api_url: https://dms.example.com/messaging
identity:
  uuid_map:
    4cf33b5e963c45eb90cc2b99892844fc: TestClient
tracker:
  ack_timeout: 5s
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 9000 {
		t.Errorf("gateway.port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.DMS.ChannelID != "chan-1" {
		t.Errorf("dms.channel_id = %q, want chan-1", cfg.DMS.ChannelID)
	}
	if got := cfg.Identity.UUIDMap["4cf33b5e963c45eb90cc2b99892844fc"]; got != "TestClient" {
		t.Errorf("identity.uuid_map entry = %q, want TestClient", got)
	}
	if cfg.Tracker.AckTimeout != 5*time.Second {
		t.Errorf("tracker.ack_timeout = %v, want 5s", cfg.Tracker.AckTimeout)
	}
	// unspecified values keep their defaults
	if cfg.Tracker.PollInterval != 3*time.Second {
		t.Errorf("tracker.poll_interval = %v, want 3s", cfg.Tracker.PollInterval)
	}
	if Path() != configFile {
		t.Errorf("Path() = %q, want %q", Path(), configFile)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("DMSRELAY_GATEWAY_PORT", "7777")
	t.Setenv("DMSRELAY_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 7777 {
		t.Errorf("gateway.port = %d, want 7777", cfg.Gateway.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_LegacyEnv(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("JWT_SECRET", "legacy-secret")
	t.Setenv("CHANNEL_ID", "legacy-channel")
	t.Setenv("API_URL", "https://legacy.example.com")
	t.Setenv("PORT", "4000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DMS.JWTSecret != "legacy-secret" {
		t.Errorf("dms.jwt_secret = %q, want legacy-secret", cfg.DMS.JWTSecret)
	}
	if cfg.DMS.ChannelID != "legacy-channel" {
		t.Errorf("dms.channel_id = %q, want legacy-channel", cfg.DMS.ChannelID)
	}
	if cfg.DMS.APIURL != "https://legacy.example.com" {
		t.Errorf("dms.api_url = %q", cfg.DMS.APIURL)
	}
	if cfg.Gateway.Port != 4000 {
		t.Errorf("gateway.port = %d, want 4000", cfg.Gateway.Port)
	}
}

func TestLoad_PrefixedEnvBeatsLegacy(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("CHANNEL_ID", "legacy")
	t.Setenv("DMSRELAY_DMS_CHANNEL_ID", "prefixed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DMS.ChannelID != "prefixed" {
		t.Errorf("dms.channel_id = %q, want prefixed", cfg.DMS.ChannelID)
	}
}

func TestLoad_Priority(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9000
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("DMSRELAY_GATEWAY_PORT", "7777")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gateway.Port != 7777 {
		t.Errorf("ENV should override file: gateway.port = %d, want 7777", cfg.Gateway.Port)
	}
}

func TestSetAndSave(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := Load(configFile); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := Set("dms.channel_id", "chan-9"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if GetString("dms.channel_id") != "chan-9" {
		t.Errorf("dms.channel_id = %q, want chan-9", GetString("dms.channel_id"))
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	Reset()
	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.DMS.ChannelID != "chan-9" {
		t.Errorf("Persisted dms.channel_id = %q, want chan-9", cfg.DMS.ChannelID)
	}
}

func TestReload(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("dms:\n  channel_id: one\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := Load(configFile); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := os.WriteFile(configFile, []byte("dms:\n  channel_id: two\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config file: %v", err)
	}
	cfg, err := Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.DMS.ChannelID != "two" {
		t.Errorf("dms.channel_id = %q, want two", cfg.DMS.ChannelID)
	}
	if GetConfig() != cfg {
		t.Error("Reload should replace the global config")
	}
}

func TestGetConfig(t *testing.T) {
	Reset()
	defer Reset()

	if GetConfig() != nil {
		t.Error("GetConfig should return nil before Load")
	}

	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("GetConfig returned nil after Load")
	}
	if GetInt("gateway.port") != 3000 {
		t.Errorf("GetInt failed")
	}
	if GetBool("receipts.enabled") {
		t.Errorf("GetBool failed")
	}
	if Get("tracker") == nil {
		t.Errorf("Get returned nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: [invalid
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for nonexistent file: %v", err)
	}
	if cfg.Gateway.Port != 3000 {
		t.Errorf("gateway.port = %d, want default 3000", cfg.Gateway.Port)
	}
}

func TestSave_WithoutPath(t *testing.T) {
	Reset()
	defer Reset()

	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := Save(); err == nil {
		t.Error("Save should fail without config path")
	}
}

func TestTrackerConfig_SweepAge(t *testing.T) {
	c := TrackerConfig{AckTimeout: 10 * time.Second, MaxPollDuration: time.Minute, SweepGrace: 30 * time.Second}
	if got := c.SweepAge(); got != 100*time.Second {
		t.Errorf("SweepAge() = %v, want 1m40s", got)
	}
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	want := map[string]bool{
		"DMSRELAY_DMS_JWT_SECRET": true,
		"JWT_SECRET":              true,
		"CHANNEL_ID":              true,
		"STATUS_URL":              true,
	}
	for _, n := range names {
		delete(want, n)
		if n == "PORT" {
			t.Error("EnvNames should only list dms variables")
		}
	}
	if len(want) != 0 {
		t.Errorf("EnvNames() missing %v", want)
	}
}

func TestDMSConfig_Configured(t *testing.T) {
	c := DMSConfig{JWTSecret: "s", ChannelID: "c"}
	if c.Configured() {
		t.Error("Configured() = true without api_url")
	}
	c.APIURL = "https://dms.example.com"
	if !c.Configured() {
		t.Error("Configured() = false with all required fields")
	}
}
