package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("ENV")
	os.Unsetenv("CONDITIONS_FILE")
	os.Unsetenv("MAX_RESULTS_DEFAULT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if !cfg.IsDev() {
		t.Error("IsDev() = false, want true")
	}
	if cfg.ConditionsFile != "conditions.json" {
		t.Errorf("ConditionsFile = %q, want conditions.json", cfg.ConditionsFile)
	}
	if cfg.MaxResultsDefault != 20 {
		t.Errorf("MaxResultsDefault = %d, want 20", cfg.MaxResultsDefault)
	}
	if cfg.IngestSeed != 42 {
		t.Errorf("IngestSeed = %d, want 42", cfg.IngestSeed)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PORT", "9090")
	os.Setenv("ENV", "production")
	os.Setenv("CONDITIONS_FILE", "/data/conditions.json")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("CONDITIONS_FILE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.IsDev() {
		t.Error("IsDev() = true, want false")
	}
	if cfg.ConditionsFile != "/data/conditions.json" {
		t.Errorf("ConditionsFile = %q, want /data/conditions.json", cfg.ConditionsFile)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{ConditionsFile: "conditions.json", MaxResultsDefault: 20}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error on valid config: %v", err)
	}

	cfg = &Config{MaxResultsDefault: 20}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil with empty CONDITIONS_FILE, want error")
	}

	cfg = &Config{ConditionsFile: "conditions.json", MaxResultsDefault: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil with zero MAX_RESULTS_DEFAULT, want error")
	}
}
