package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type persistentFile struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PersistentStore keeps entries in a JSON file. Every mutation is written
// through atomically (temp file, then rename). Safe for concurrent use
// within one process.
type PersistentStore struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// OpenPersistentStore loads (or creates) the store at path. A corrupt
// file is an error; a missing one starts empty.
func OpenPersistentStore(path string) (*PersistentStore, error) {
	store := &PersistentStore{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	var file persistentFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse memory store %s: %w", path, err)
	}
	store.entries = file.Entries
	return store, nil
}

// save writes the store to disk. Caller holds the lock.
func (p *PersistentStore) save() error {
	file := persistentFile{Entries: p.entries, UpdatedAt: time.Now()}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

// Add stores content and returns the new entry's ID.
func (p *PersistentStore) Add(content string, metadata map[string]any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	p.entries = append(p.entries, Entry{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
	if err := p.save(); err != nil {
		p.entries = p.entries[:len(p.entries)-1]
		return "", err
	}
	return id, nil
}

// Get returns an entry by ID.
func (p *PersistentStore) Get(id string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

// Search ranks stored entries against the query.
func (p *PersistentStore) Search(query string, limit int) []SearchResult {
	p.mu.Lock()
	entries := make([]Entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.Unlock()
	return searchEntries(entries, query, limit)
}

// Delete removes an entry. Returns true if it existed.
func (p *PersistentStore) Delete(id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, entry := range p.entries {
		if entry.ID == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true, p.save()
		}
	}
	return false, nil
}

// Clear removes every entry.
func (p *PersistentStore) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	return p.save()
}

// Size returns the number of stored entries.
func (p *PersistentStore) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
