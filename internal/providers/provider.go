// Package providers implements the LLM provider contract: a uniform
// completion and streaming interface over the Anthropic, OpenAI and Azure
// OpenAI APIs, a process-wide registry with instance caching, and a shared
// error taxonomy.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/haasonsaas/uagent/pkg/models"
)

// Tool choice modes. Any other non-empty value names a specific tool the
// model must call.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Request carries per-call parameters common to all providers.
type Request struct {
	Model             string
	SystemPrompt      string
	MaxTokens         int
	Temperature       *float32
	TopP              *float32
	Tools             []models.ToolDefinition
	ToolChoice        string
	EnableThinking    bool
	MaxThinkingTokens int
}

// Features describes provider capabilities.
type Features struct {
	Streaming             bool `json:"streaming"`
	ToolCalling           bool `json:"tool_calling"`
	Vision                bool `json:"vision"`
	Thinking              bool `json:"thinking"`
	JSONMode              bool `json:"json_mode"`
	MaxContextLength      int  `json:"max_context_length"`
	SupportsSystemMessage bool `json:"supports_system_message"`
}

// Provider is the uniform interface over LLM backends.
//
// Stream returns a channel yielding StreamEvents as tokens arrive, then the
// assembled AssistantMessage, then a terminal ResultMessage; the channel is
// closed afterwards. Errors during streaming surface as a ResultMessage with
// IsError set and the error text in Result.
type Provider interface {
	Name() string
	Features() Features
	Complete(ctx context.Context, messages []models.Message, req Request) (*models.AssistantMessage, error)
	Stream(ctx context.Context, messages []models.Message, req Request) (<-chan models.Message, error)
}

// Factory builds a provider instance from configuration.
type Factory func(config map[string]any) (Provider, error)

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
	instances  = map[string]Provider{}
)

// Register installs a provider factory under a name. Later registrations
// replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Get returns a provider instance for the name, creating and caching one per
// (name, config) pair. Distinct configs for the same name yield distinct
// instances.
func Get(name string, config map[string]any) (Provider, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	factory, ok := factories[name]
	if !ok {
		return nil, &ProviderNotFoundError{Provider: name}
	}

	key := name
	if len(config) > 0 {
		key = fmt.Sprintf("%s:%d", name, hashConfig(config))
	}
	if inst, ok := instances[key]; ok {
		return inst, nil
	}

	inst, err := factory(config)
	if err != nil {
		return nil, err
	}
	instances[key] = inst
	return inst, nil
}

// List returns the registered provider names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a provider name is known.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// ResetRegistry drops all cached instances. Test helper.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	instances = map[string]Provider{}
}

func hashConfig(config map[string]any) uint64 {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		val, _ := json.Marshal(config[k])
		fmt.Fprintf(h, "%s=%s;", k, val)
	}
	return h.Sum64()
}

// configString reads a string key out of a provider config map.
func configString(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}
