// Package config resolves provider credentials and settings from explicit
// overrides, a pluggable secret fetcher, the environment, and built-in
// defaults, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/joho/godotenv"
)

// SecretFetcher looks up a secret by its environment variable name, for
// wiring in a vault or keychain. Return false when the secret is absent.
type SecretFetcher func(envVar string) (string, bool)

// providerEnvVars maps each provider's config keys to the environment
// variables that carry them.
var providerEnvVars = map[string]map[string]string{
	"claude": {
		"api_key":  "ANTHROPIC_API_KEY",
		"base_url": "ANTHROPIC_BASE_URL",
	},
	"anthropic": {
		"api_key":  "ANTHROPIC_API_KEY",
		"base_url": "ANTHROPIC_BASE_URL",
	},
	"openai": {
		"api_key":      "OPENAI_API_KEY",
		"base_url":     "OPENAI_BASE_URL",
		"organization": "OPENAI_ORG_ID",
	},
	"azure_openai": {
		"api_key":         "AZURE_OPENAI_API_KEY",
		"azure_endpoint":  "AZURE_OPENAI_ENDPOINT",
		"api_version":     "AZURE_OPENAI_API_VERSION",
		"deployment_name": "AZURE_OPENAI_DEPLOYMENT",
	},
}

var providerDefaults = map[string]map[string]string{
	"azure_openai": {
		"api_version": "2024-02-01",
	},
}

// requiredKeys lists the keys a provider cannot run without.
var requiredKeys = map[string][]string{
	"claude":       {"api_key"},
	"anthropic":    {"api_key"},
	"openai":       {"api_key"},
	"azure_openai": {"api_key", "azure_endpoint"},
}

// Resolver resolves provider configuration. Safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	overrides map[string]map[string]string
	fetcher   SecretFetcher
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*resolverOptions)

type resolverOptions struct {
	fetcher    SecretFetcher
	logger     *slog.Logger
	skipDotenv bool
}

// WithSecretFetcher installs a secret source consulted before the
// environment.
func WithSecretFetcher(f SecretFetcher) Option {
	return func(o *resolverOptions) { o.fetcher = f }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolverOptions) { o.logger = logger }
}

// WithoutDotenv disables the .env auto-load.
func WithoutDotenv() Option {
	return func(o *resolverOptions) { o.skipDotenv = true }
}

// New creates a Resolver. Unless disabled, it loads the nearest .env file
// found walking up from the working directory; existing environment
// variables are never overwritten.
func New(opts ...Option) *Resolver {
	var o resolverOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "config")

	if !o.skipDotenv {
		if path := findDotenv(); path != "" {
			if err := godotenv.Load(path); err != nil {
				logger.Warn("failed to load .env", "path", path, "error", err)
			} else {
				logger.Debug("loaded .env", "path", path)
			}
		}
	}

	return &Resolver{
		overrides: make(map[string]map[string]string),
		fetcher:   o.fetcher,
		logger:    logger,
	}
}

// FromMap creates a Resolver pre-seeded with overrides and no .env load.
func FromMap(overrides map[string]map[string]string, opts ...Option) *Resolver {
	r := New(append([]Option{WithoutDotenv()}, opts...)...)
	for provider, kv := range overrides {
		for key, value := range kv {
			r.Set(provider, key, value)
		}
	}
	return r
}

func findDotenv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Set records an explicit override for a provider key.
func (r *Resolver) Set(provider, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides[provider] == nil {
		r.overrides[provider] = make(map[string]string)
	}
	r.overrides[provider][key] = value
}

// SetAPIKey records an API key override for a provider.
func (r *Resolver) SetAPIKey(provider, apiKey string) {
	r.Set(provider, "api_key", apiKey)
}

// resolve returns the value for (provider, key): override, then secret
// fetcher, then environment, then defaults.
func (r *Resolver) resolve(provider, key string) string {
	r.mu.RLock()
	if v, ok := r.overrides[provider][key]; ok && v != "" {
		r.mu.RUnlock()
		return v
	}
	fetcher := r.fetcher
	r.mu.RUnlock()

	if envVar := providerEnvVars[provider][key]; envVar != "" {
		if fetcher != nil {
			if v, ok := fetcher(envVar); ok && v != "" {
				return v
			}
		}
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return providerDefaults[provider][key]
}

// APIKey returns the API key for a provider, or "".
func (r *Resolver) APIKey(provider string) string {
	return r.resolve(provider, "api_key")
}

// ProviderConfig returns the full resolved config map for a provider,
// ready to hand to a provider factory.
func (r *Resolver) ProviderConfig(provider string) map[string]any {
	out := make(map[string]any)
	keys := make(map[string]struct{})
	for key := range providerEnvVars[provider] {
		keys[key] = struct{}{}
	}
	for key := range providerDefaults[provider] {
		keys[key] = struct{}{}
	}
	r.mu.RLock()
	for key := range r.overrides[provider] {
		keys[key] = struct{}{}
	}
	r.mu.RUnlock()

	for key := range keys {
		if v := r.resolve(provider, key); v != "" {
			out[key] = v
		}
	}
	return out
}

// Validate checks that a provider has every required key resolved.
func (r *Resolver) Validate(provider string) error {
	required, ok := requiredKeys[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	var missing []string
	for _, key := range required {
		if r.resolve(provider, key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider %q missing required config: %v", provider, missing)
	}
	return nil
}

// IsConfigured reports whether a provider has all required keys.
func (r *Resolver) IsConfigured(provider string) bool {
	return r.Validate(provider) == nil
}

// ConfiguredProviders returns the providers that are fully configured,
// sorted by name.
func (r *Resolver) ConfiguredProviders() []string {
	var out []string
	for provider := range requiredKeys {
		if r.IsConfigured(provider) {
			out = append(out, provider)
		}
	}
	sort.Strings(out)
	return out
}
