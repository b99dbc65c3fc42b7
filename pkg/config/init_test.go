package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, section := range []string{
		"# LAN Chat Server Configuration File",
		"logging:",
		"server:",
		"discovery:",
		"storage:",
		"metrics:",
		"api:",
	} {
		if !strings.Contains(string(content), section) {
			t.Errorf("generated config missing %q", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}
}

func TestInitConfigToPathAlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("first InitConfigToPath: %v", err)
	}

	err := InitConfigToPath(path, false)
	if err == nil {
		t.Fatal("expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error = %v, want 'already exists'", err)
	}

	if err := InitConfigToPath(path, true); err != nil {
		t.Fatalf("InitConfigToPath with force: %v", err)
	}
}

func TestInitConfigDefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "lanchat" {
		t.Errorf("config written to %s, want a lanchat directory", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load generated config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("server port = %d, want 6000", cfg.Server.Port)
	}
	if !cfg.Discovery.Enabled {
		t.Error("discovery should be enabled in generated config")
	}
}
