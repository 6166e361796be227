// Package memory provides agent memory stores: an ephemeral conversation
// ring and a JSON-file persistent store with keyword search.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one remembered item.
type Entry struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SearchResult pairs an entry with its relevance score.
type SearchResult struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// searchEntries ranks entries by keyword overlap with the query: the share
// of query words present in the content, with a 0.2 boost when the whole
// query appears as a substring, capped at 1.0. Ties break by recency.
func searchEntries(entries []Entry, query string, limit int) []SearchResult {
	queryLower := strings.ToLower(query)
	queryWords := fields(queryLower)
	if len(queryWords) == 0 {
		return nil
	}

	var results []SearchResult
	for _, entry := range entries {
		contentLower := strings.ToLower(entry.Content)
		contentWords := fields(contentLower)

		matches := 0
		for word := range queryWords {
			if _, ok := contentWords[word]; ok {
				matches++
			}
		}
		if matches == 0 {
			continue
		}

		score := float64(matches) / float64(len(queryWords))
		if strings.Contains(contentLower, queryLower) {
			score += 0.2
			if score > 1.0 {
				score = 1.0
			}
		}
		results = append(results, SearchResult{Entry: entry, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func fields(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		out[word] = struct{}{}
	}
	return out
}

// Store is the backend behind the memory tool. Both ConversationMemory
// and PersistentStore implement it.
type Store interface {
	Add(content string, metadata map[string]any) (string, error)
	Get(id string) (Entry, bool)
	Search(query string, limit int) []SearchResult
	Delete(id string) (bool, error)
	Clear() error
	Size() int
}

// ConversationMemory is a bounded in-memory store. When the limit is
// exceeded the oldest entry is pruned. Safe for concurrent use.
type ConversationMemory struct {
	maxEntries int

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// NewConversationMemory creates a store holding at most maxEntries items;
// zero means unbounded.
func NewConversationMemory(maxEntries int) *ConversationMemory {
	return &ConversationMemory{
		maxEntries: maxEntries,
		entries:    make(map[string]Entry),
	}
}

// Add stores content and returns the new entry's ID.
func (c *ConversationMemory) Add(content string, metadata map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.entries[id] = Entry{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	c.order = append(c.order, id)

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	return id, nil
}

// Get returns an entry by ID.
func (c *ConversationMemory) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	return entry, ok
}

// Search ranks entries against the query.
func (c *ConversationMemory) Search(query string, limit int) []SearchResult {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	return searchEntries(entries, query, limit)
}

// Delete removes an entry. Returns true if it existed.
func (c *ConversationMemory) Delete(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false, nil
	}
	delete(c.entries, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Clear removes every entry.
func (c *ConversationMemory) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.order = nil
	return nil
}

// Size returns the number of stored entries.
func (c *ConversationMemory) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
