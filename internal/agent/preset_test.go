package agent

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePreset = `
id: researcher
name: Research Agent
description: Web research with summaries
provider: openai
model: gpt-4o
system_prompt: You research topics and cite sources.
allowed_tools:
  - web_search
  - read_file
permission_mode: auto_allow
max_turns: 6
max_tokens: 2048
provider_config:
  base_url: ${UAGENT_TEST_BASE_URL}
resource_limits:
  cpu_quota: 2.0
  memory_limit: 4g
  timeout_seconds: 300
`

func writePreset(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPreset(t *testing.T) {
	t.Setenv("UAGENT_TEST_BASE_URL", "http://localhost:8080/v1")

	preset, err := LoadPreset(writePreset(t, "researcher.yaml", samplePreset))
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	if preset.ID != "researcher" || preset.Name != "Research Agent" {
		t.Errorf("preset = %+v", preset)
	}
	if preset.Provider != "openai" || preset.Model != "gpt-4o" {
		t.Errorf("provider = %q model = %q", preset.Provider, preset.Model)
	}
	if len(preset.AllowedTools) != 2 {
		t.Errorf("allowed tools = %v", preset.AllowedTools)
	}
	if preset.ProviderConfig["base_url"] != "http://localhost:8080/v1" {
		t.Errorf("base_url = %q, env expansion failed", preset.ProviderConfig["base_url"])
	}
	if preset.ResourceLimits == nil || preset.ResourceLimits.CPUQuota != 2.0 || preset.ResourceLimits.MemoryLimit != "4g" {
		t.Errorf("resource limits = %+v", preset.ResourceLimits)
	}
}

func TestLoadPresetJSON(t *testing.T) {
	path := writePreset(t, "minimal.json", `{"id": "mini", "name": "Minimal"}`)
	preset, err := LoadPreset(path)
	if err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	if preset.ID != "mini" {
		t.Errorf("id = %q", preset.ID)
	}
	if preset.Provider != "claude" {
		t.Errorf("provider = %q, want default claude", preset.Provider)
	}
}

func TestLoadPresetErrors(t *testing.T) {
	if _, err := LoadPreset(writePreset(t, "p.txt", "id: x")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := ParsePreset([]byte(`name: No ID`)); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := ParsePreset([]byte(`id: x`)); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := ParsePreset([]byte("id: x\nname: X\npermission_mode: sometimes")); err == nil {
		t.Error("expected error for invalid permission_mode")
	}
}

func TestPresetToOptions(t *testing.T) {
	t.Setenv("UAGENT_TEST_BASE_URL", "http://localhost:8080/v1")
	preset, err := LoadPreset(writePreset(t, "researcher.yaml", samplePreset))
	if err != nil {
		t.Fatal(err)
	}

	opts := preset.ToOptions()
	if opts.Provider != "openai" || opts.Model != "gpt-4o" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.MaxTurns != 6 || opts.MaxTokens != 2048 {
		t.Errorf("limits: turns=%d tokens=%d", opts.MaxTurns, opts.MaxTokens)
	}
	if opts.PermissionMode != PermissionAutoAllow {
		t.Errorf("permission mode = %q", opts.PermissionMode)
	}
	if opts.ProviderConfig["base_url"] != "http://localhost:8080/v1" {
		t.Errorf("provider config = %v", opts.ProviderConfig)
	}
}

func TestDiscoverPresets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: a\nname: A"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"id": "b", "name": "B"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: no id"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatal(err)
	}

	presets := DiscoverPresets(dir, filepath.Join(dir, "missing"))
	if len(presets) != 2 {
		t.Fatalf("presets = %v", presets)
	}
	if presets["a"] == nil || presets["b"] == nil {
		t.Errorf("presets = %v", presets)
	}
}
