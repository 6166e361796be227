package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConversationMemoryPrunesOldest(t *testing.T) {
	mem := NewConversationMemory(2)
	first, _ := mem.Add("first entry", nil)
	mem.Add("second entry", nil)
	mem.Add("third entry", nil)

	if mem.Size() != 2 {
		t.Fatalf("size = %d", mem.Size())
	}
	if _, ok := mem.Get(first); ok {
		t.Error("oldest entry survived pruning")
	}
}

func TestSearchScoring(t *testing.T) {
	mem := NewConversationMemory(0)
	mem.Add("python decorators explained in detail", nil)
	mem.Add("user asked about go generics", nil)
	mem.Add("nothing relevant here", nil)

	results := mem.Search("python decorators", 10)
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	// Both query words match and the query is a substring: 1.0 capped.
	if results[0].Score != 1.0 {
		t.Errorf("score = %v", results[0].Score)
	}

	results = mem.Search("go decorators", 10)
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	// Half the query words match each entry, no substring boost.
	for _, r := range results {
		if r.Score != 0.5 {
			t.Errorf("score = %v", r.Score)
		}
	}
}

func TestSearchLimit(t *testing.T) {
	mem := NewConversationMemory(0)
	for i := 0; i < 5; i++ {
		mem.Add("repeated keyword entry", nil)
	}
	if got := len(mem.Search("keyword", 3)); got != 3 {
		t.Errorf("len = %d", got)
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")

	store, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.Add("remember the milk", map[string]any{"kind": "todo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add("unrelated note", nil); err != nil {
		t.Fatal(err)
	}

	// Reopen from disk.
	reopened, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != 2 {
		t.Fatalf("size = %d", reopened.Size())
	}
	entry, ok := reopened.Get(id)
	if !ok || entry.Content != "remember the milk" {
		t.Fatalf("entry = %+v, %v", entry, ok)
	}
	if entry.Metadata["kind"] != "todo" {
		t.Errorf("metadata = %v", entry.Metadata)
	}

	results := reopened.Search("milk", 5)
	if len(results) != 1 || results[0].Entry.ID != id {
		t.Errorf("results = %+v", results)
	}
}

func TestPersistentStoreDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.Add("entry", nil)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := store.Delete(id)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, err = store.Delete(id)
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v", ok, err)
	}

	if _, err := store.Add("another", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != 0 {
		t.Errorf("size after clear = %d", reopened.Size())
	}
}

func TestPersistentStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenPersistentStore(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}
