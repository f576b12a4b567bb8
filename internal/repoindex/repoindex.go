// Package repoindex persists the miner's per-repository watermark: when a
// repository was last checked for breaking updates, so re-runs can skip
// unchanged history. Ground: spec.md §3 "RepositoryIndex" entity, backed by
// internal/jsonstore's atomic write pattern.
package repoindex

import (
	"sync"

	"github.com/chains-project/bump/internal/jsonstore"
)

// Entry is one repository's mining watermark.
type Entry struct {
	URL           string `json:"url"`
	LastCheckedAt string `json:"lastCheckedAt"`
}

// Index maps "owner/project" to its Entry. The zero value is not usable;
// use Load.
type Index struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// Load reads the index from path, or returns an empty index if the file
// does not yet exist.
func Load(path string) (*Index, error) {
	entries, ok, err := jsonstore.ReadFileIfExists[map[string]Entry](path)
	if err != nil {
		return nil, err
	}
	if !ok {
		entries = make(map[string]Entry)
	}
	return &Index{path: path, entries: entries}, nil
}

// Get returns the entry for owner/project and whether it was present.
func (idx *Index) Get(owner, project string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[key(owner, project)]
	return e, ok
}

// LastCheckedAt returns the stored watermark string unparsed, or "" for a
// missing entry. An empty watermark means "never checked";
// jsonstore.ParseTime turns it into the zero time.
func (idx *Index) LastCheckedAt(owner, project string) (string, error) {
	e, ok := idx.Get(owner, project)
	if !ok {
		return "", nil
	}
	return e.LastCheckedAt, nil
}

// All returns a snapshot of every entry in the index, keyed by
// "owner/project", for callers that need to iterate the whole set (e.g.
// building a mining run's repository list).
func (idx *Index) All() map[string]Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	snapshot := make(map[string]Entry, len(idx.entries))
	for k, v := range idx.entries {
		snapshot[k] = v
	}
	return snapshot
}

// Set records (or overwrites) the watermark for owner/project.
func (idx *Index) Set(owner, project string, entry Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[key(owner, project)] = entry
}

// Save rewrites the whole index to disk atomically. Rewriting wholesale
// after each repository's mining pass is acceptable because concurrent
// writers touch disjoint keys and last-writer-wins on the file as a whole
// only risks losing an update made by a goroutine that hadn't yet finished
// its pass, not a key collision (spec.md §3).
func (idx *Index) Save() error {
	idx.mu.Lock()
	snapshot := make(map[string]Entry, len(idx.entries))
	for k, v := range idx.entries {
		snapshot[k] = v
	}
	idx.mu.Unlock()
	return jsonstore.WriteFile(idx.path, snapshot)
}

func key(owner, project string) string {
	return owner + "/" + project
}
