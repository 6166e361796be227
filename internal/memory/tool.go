package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/uagent/pkg/models"
)

const toolDescription = "A tool for storing and retrieving information across conversations. " +
	"Supports storing notes, keyword search, and deleting entries."

// systemPrompt is appended to an agent's system prompt when the memory
// tool is available.
const systemPrompt = `MEMORY PROTOCOL:
1. Use the search command of your memory tool to check for earlier progress before doing anything else.
2. As you make progress, record status and findings with the store command.
ASSUME INTERRUPTION: Your context window might be reset at any moment, so you risk losing any progress that is not recorded in memory.`

// SystemPrompt returns the recommended system prompt addition for agents
// carrying the memory tool.
func SystemPrompt() string {
	return systemPrompt
}

// Tool wraps a Store as an agent tool named "memory". The model drives it
// through a command argument: store, search, get, delete, or clear.
func Tool(store Store) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "memory",
		Description: toolDescription,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"enum":        []string{"store", "search", "get", "delete", "clear"},
					"description": "The memory operation to perform",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Text to remember (store)",
				},
				"metadata": map[string]any{
					"type":        "object",
					"description": "Optional key/value tags for the entry (store)",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Keywords to search for (search)",
				},
				"id": map[string]any{
					"type":        "string",
					"description": "Entry ID (get, delete)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of search results",
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			return runCommand(store, input)
		},
	}
}

func runCommand(store Store, input map[string]any) (string, error) {
	command, _ := input["command"].(string)
	switch command {
	case "store":
		content, _ := input["content"].(string)
		if content == "" {
			return "", fmt.Errorf("store requires content")
		}
		metadata, _ := input["metadata"].(map[string]any)
		id, err := store.Add(content, metadata)
		if err != nil {
			return "", err
		}
		return "Stored entry " + id, nil

	case "search":
		query, _ := input["query"].(string)
		if query == "" {
			return "", fmt.Errorf("search requires a query")
		}
		limit := 5
		if n, ok := input["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}
		results := store.Search(query, limit)
		if len(results) == 0 {
			return "No matching entries", nil
		}
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "[%s] %s\n", r.Entry.ID, r.Entry.Content)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "get":
		id, _ := input["id"].(string)
		entry, ok := store.Get(id)
		if !ok {
			return "", fmt.Errorf("no entry with id %q", id)
		}
		return entry.Content, nil

	case "delete":
		id, _ := input["id"].(string)
		existed, err := store.Delete(id)
		if err != nil {
			return "", err
		}
		if !existed {
			return "", fmt.Errorf("no entry with id %q", id)
		}
		return "Deleted entry " + id, nil

	case "clear":
		if err := store.Clear(); err != nil {
			return "", err
		}
		return "Cleared all memory", nil
	}
	return "", fmt.Errorf("unknown memory command %q", command)
}
