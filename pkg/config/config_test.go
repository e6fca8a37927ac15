package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Threshold.Method != "otsu" {
		t.Errorf("default threshold method = %q, want otsu", cfg.Threshold.Method)
	}
	if cfg.Threshold.ManualValue != nil {
		t.Error("default manual value should be unset")
	}
	if cfg.Segmentation.MinArea != 100 {
		t.Errorf("default min area = %d, want 100", cfg.Segmentation.MinArea)
	}
	if cfg.Lifetime.ScaleFactor != 6553.5 {
		t.Errorf("default scale factor = %f, want 6553.5", cfg.Lifetime.ScaleFactor)
	}
	if cfg.Tracking.GapTolerance != 1 {
		t.Errorf("default gap tolerance = %d, want 1", cfg.Tracking.GapTolerance)
	}
	if cfg.Processing.NumWorkers < 1 {
		t.Error("default worker count must be at least 1")
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults, got: %v", err)
	}
	if cfg.Threshold.Method != "otsu" {
		t.Errorf("fallback config method = %q, want otsu", cfg.Threshold.Method)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
threshold:
  method: manual
  manualValue: 0.42
tracking:
  gapTolerance: 3
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Threshold.Method != "manual" {
		t.Errorf("method = %q, want manual", cfg.Threshold.Method)
	}
	if cfg.Threshold.ManualValue == nil || *cfg.Threshold.ManualValue != 0.42 {
		t.Errorf("manual value = %v, want 0.42", cfg.Threshold.ManualValue)
	}
	if cfg.Tracking.GapTolerance != 3 {
		t.Errorf("gap tolerance = %d, want 3", cfg.Tracking.GapTolerance)
	}
	// Untouched sections keep their defaults.
	if cfg.Segmentation.MinArea != 100 {
		t.Errorf("min area = %d, want default 100", cfg.Segmentation.MinArea)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	v := 0.3
	cfg.Threshold.ManualValue = &v
	cfg.Output.Directory = "results"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Output.Directory != "results" {
		t.Errorf("round-tripped directory = %q, want results", loaded.Output.Directory)
	}
	if loaded.Threshold.ManualValue == nil || *loaded.Threshold.ManualValue != 0.3 {
		t.Errorf("round-tripped manual value = %v, want 0.3", loaded.Threshold.ManualValue)
	}
}
