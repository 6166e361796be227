package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResourceLimits bounds the container a preset launches into.
type ResourceLimits struct {
	CPUQuota       float64 `yaml:"cpu_quota,omitempty" json:"cpu_quota,omitempty"`
	MemoryLimit    string  `yaml:"memory_limit,omitempty" json:"memory_limit,omitempty"`
	StorageLimit   string  `yaml:"storage_limit,omitempty" json:"storage_limit,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Preset is a declarative agent configuration loaded from YAML or JSON.
type Preset struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`

	Provider       string            `yaml:"provider,omitempty" json:"provider,omitempty"`
	ProviderConfig map[string]string `yaml:"provider_config,omitempty" json:"provider_config,omitempty"`
	Model          string            `yaml:"model,omitempty" json:"model,omitempty"`

	SystemPrompt string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	AllowedTools []string `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`

	PermissionMode    string   `yaml:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	MaxTurns          int      `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	MaxTokens         int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature       *float32 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	EnableThinking    bool     `yaml:"enable_thinking,omitempty" json:"enable_thinking,omitempty"`
	MaxThinkingTokens int      `yaml:"max_thinking_tokens,omitempty" json:"max_thinking_tokens,omitempty"`

	ResourceLimits *ResourceLimits `yaml:"resource_limits,omitempty" json:"resource_limits,omitempty"`
}

var validPermissionModes = map[string]bool{
	"":           true,
	"ask":        true,
	"auto_allow": true,
	"deny_all":   true,
}

// LoadPreset reads a preset from a .yaml, .yml, or .json file. JSON parses
// through the YAML decoder, so one path handles both.
func LoadPreset(path string) (*Preset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported preset format %q: use .yaml, .yml, or .json", filepath.Ext(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePreset(raw)
}

// ParsePreset decodes and validates preset bytes.
func ParsePreset(raw []byte) (*Preset, error) {
	var preset Preset
	if err := yaml.Unmarshal(raw, &preset); err != nil {
		return nil, fmt.Errorf("parse preset: %w", err)
	}
	if preset.ID == "" {
		return nil, fmt.Errorf("preset must have an 'id' field")
	}
	if preset.Name == "" {
		return nil, fmt.Errorf("preset must have a 'name' field")
	}
	if !validPermissionModes[preset.PermissionMode] {
		return nil, fmt.Errorf("invalid permission_mode %q", preset.PermissionMode)
	}
	if preset.Provider == "" {
		preset.Provider = "claude"
	}
	for key, value := range preset.ProviderConfig {
		preset.ProviderConfig[key] = expandEnv(value)
	}
	return &preset, nil
}

// DiscoverPresets loads every preset under the given directories, keyed by
// preset ID. Unparseable files are skipped.
func DiscoverPresets(dirs ...string) map[string]*Preset {
	presets := make(map[string]*Preset)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".yaml", ".yml", ".json":
			default:
				continue
			}
			preset, err := LoadPreset(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			presets[preset.ID] = preset
		}
	}
	return presets
}

// ToOptions converts the preset into client options.
func (p *Preset) ToOptions() Options {
	var providerConfig map[string]any
	if len(p.ProviderConfig) > 0 {
		providerConfig = make(map[string]any, len(p.ProviderConfig))
		for key, value := range p.ProviderConfig {
			providerConfig[key] = value
		}
	}
	return Options{
		Provider:          p.Provider,
		ProviderConfig:    providerConfig,
		Model:             p.Model,
		SystemPrompt:      p.SystemPrompt,
		MaxTokens:         p.MaxTokens,
		Temperature:       p.Temperature,
		MaxTurns:          p.MaxTurns,
		EnableThinking:    p.EnableThinking,
		MaxThinkingTokens: p.MaxThinkingTokens,
		PermissionMode:    PermissionMode(p.PermissionMode),
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv substitutes ${VAR} references with environment values.
func expandEnv(value string) string {
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
