package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	return writeTempConfigContent(t, validConfigYAML)
}

func writeTempConfigContent(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const validConfigYAML = `markflow:
  name: "TestApp"
  version: "1.0"
engine:
  symbol: "BTCUSDT"
  tick_interval: 1s
  cycle_timeout: 500ms
  min_sources: 3
  max_staleness: 10s
  outlier_threshold: 0.1
  mark_mode: funding_adjusted
  funding_clamp: 0.01
  step_limit: 0.05
  max_outage_duration: 60s
risk:
  maintenance_margin_ratio: 0.05
  liquidation_buffer_count: 3
sources:
  weights:
    binance: 0.4
    bybit: 0.3
    kucoin: 0.3
channels:
  snapshot_buffer: 16
  event_buffer: 64
storage:
  s3:
    enabled: false
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Markflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Markflow.Name)
	}
	if cfg.Engine.MinSources != 3 {
		t.Errorf("unexpected min sources: %d", cfg.Engine.MinSources)
	}
	if cfg.Engine.HistoryDepth != 1024 {
		t.Errorf("history depth default not applied: %d", cfg.Engine.HistoryDepth)
	}
	if cfg.Risk.MaxWorkers != 4 {
		t.Errorf("risk worker default not applied: %d", cfg.Risk.MaxWorkers)
	}
}

func TestLoadConfigRejectsMissingRiskParams(t *testing.T) {
	cases := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			name:    "missing funding clamp",
			mangle:  func(s string) string { return strings.Replace(s, "  funding_clamp: 0.01\n", "", 1) },
			wantErr: "funding_clamp",
		},
		{
			name:    "missing step limit",
			mangle:  func(s string) string { return strings.Replace(s, "  step_limit: 0.05\n", "", 1) },
			wantErr: "step_limit",
		},
		{
			name:    "missing outlier threshold",
			mangle:  func(s string) string { return strings.Replace(s, "  outlier_threshold: 0.1\n", "", 1) },
			wantErr: "outlier_threshold",
		},
		{
			name:    "missing buffer count",
			mangle:  func(s string) string { return strings.Replace(s, "  liquidation_buffer_count: 3\n", "", 1) },
			wantErr: "liquidation_buffer_count",
		},
		{
			name:    "invalid mark mode",
			mangle:  func(s string) string { return strings.Replace(s, "funding_adjusted", "magic", 1) },
			wantErr: "mark_mode",
		},
		{
			name: "weights below min sources",
			mangle: func(s string) string {
				s = strings.Replace(s, "    bybit: 0.3\n", "", 1)
				return strings.Replace(s, "    kucoin: 0.3\n", "", 1)
			},
			wantErr: "min_sources",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeTempConfigContent(t, c.mangle(validConfigYAML))
			defer os.Remove(path)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestLoadConfigValidatesEnabledSources(t *testing.T) {
	content := strings.Replace(validConfigYAML, "    kucoin: 0.3\n",
		"    kucoin: 0.3\n  binance:\n    enabled: true\n    url: \"wss://example.test/ws\"\n", 1)
	path := writeTempConfigContent(t, content)
	defer os.Remove(path)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for enabled binance source without symbol")
	}
	if !strings.Contains(err.Error(), "sources.binance") {
		t.Errorf("error %q does not mention sources.binance", err)
	}

	content = strings.Replace(content, "    url: \"wss://example.test/ws\"\n",
		"    url: \"wss://example.test/ws\"\n    symbol: \"BTCUSDT\"\n", 1)
	path2 := writeTempConfigContent(t, content)
	defer os.Remove(path2)

	if _, err := LoadConfig(path2); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
}

func TestLoadConfigSmoothedRequiresAlpha(t *testing.T) {
	content := strings.Replace(validConfigYAML, "mark_mode: funding_adjusted", "mark_mode: smoothed", 1)
	path := writeTempConfigContent(t, content)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for smoothed mode without smoothing_alpha")
	}

	content = strings.Replace(content, "  step_limit: 0.05\n", "  step_limit: 0.05\n  smoothing_alpha: 0.3\n", 1)
	path2 := writeTempConfigContent(t, content)
	defer os.Remove(path2)

	cfg, err := LoadConfig(path2)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Engine.SmoothingAlpha != 0.3 {
		t.Errorf("unexpected smoothing alpha: %v", cfg.Engine.SmoothingAlpha)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := ResolveConfigPath("custom.yml", "config/config.yaml"); got != "custom.yml" {
		t.Errorf("explicit path not honored: %s", got)
	}
	if got := ResolveConfigPath("config/config.yaml", "config/config.yaml"); got != "config/config.yaml" {
		t.Errorf("development should keep default: %s", got)
	}

	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Errorf("alias not normalised: %s", env)
	}
	// No production file on disk, fall back to the default.
	if got := ResolveConfigPath("config/config.yaml", "config/config.yaml"); got != "config/config.yaml" {
		t.Errorf("missing env file should fall back: %s", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
