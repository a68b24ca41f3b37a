package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "coapfs", "config.yaml")

	written, err := InitConfig(configPath, false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if written != configPath {
		t.Errorf("Expected path %q, got %q", configPath, written)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# coapfs Configuration File",
		"logging:",
		"server:",
		"resources:",
		"transport:",
		"observe:",
		"max_read_size: 255",
		"housekeeping_interval: 2s",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// Verify the generated file is valid YAML
	var tree map[string]any
	if err := yaml.Unmarshal(content, &tree); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := InitConfig(configPath, false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	if _, err := InitConfig(configPath, false); err == nil {
		t.Fatal("Expected error when config already exists")
	}

	if _, err := InitConfig(configPath, true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}
}

func TestInitConfig_LoadsBack(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if _, err := InitConfig(configPath, false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath, map[string]any{"resources.root": tmpDir})
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	want := GetDefaultConfig()
	want.Resources.Root = tmpDir
	if cfg.Server != want.Server || cfg.Transport != want.Transport || cfg.Observe != want.Observe {
		t.Errorf("Loaded config differs from defaults:\n got: %+v\nwant: %+v", cfg, want)
	}
}
