package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Backend.Timeout.Std() != 10*time.Second {
		t.Fatalf("timeout = %v", cfg.Backend.Timeout.Std())
	}
	if cfg.Roles.Bulk != "bulk_approver" || !cfg.KnowsRole("section_head") || cfg.KnowsRole("janitor") {
		t.Fatalf("unexpected roles %+v", cfg.Roles)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("backend:\n  base_url: https://cases.example.org/api\n  timeout: 3s\n"))
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}
	if cfg.Backend.BaseURL != "https://cases.example.org/api" || cfg.Backend.Timeout.Std() != 3*time.Second {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Server.BasePath != "/v0" || cfg.Roles.Bulk != "bulk_approver" {
		t.Fatalf("defaults lost: %+v %+v", cfg.Server, cfg.Roles)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"relative url":    "backend:\n  base_url: cases/api\n",
		"bad duration":    "backend:\n  timeout: soon\n",
		"bulk not known":  "roles:\n  bulk: night_shift\n",
		"base path":       "server:\n  base_path: v0\n",
		"log format":      "logging:\n  format: xml\n",
		"empty known":     "roles:\n  known: [bulk_approver, '']\n",
		"negative timout": "backend:\n  timeout: -1s\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: FromYAML() error = nil, want error", name)
		}
	}
}

func TestLoadMissingAndOptional(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "cfl config init") {
		t.Fatalf("Load() error = %v, want hint", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg.Roles.Bulk != "bulk_approver" {
		t.Fatalf("LoadOptional() = %+v, %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "caseflow.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestEncodeRoundTripsDuration(t *testing.T) {
	out, err := Default().Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(out), "timeout: 10s") {
		t.Fatalf("encoded config lacks duration string:\n%s", out)
	}
	if _, err := FromYAML(out); err != nil {
		t.Fatalf("FromYAML(Encode()) error = %v", err)
	}
}
