package repoindex

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsEmptyIndex(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "repositoryIndex.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := idx.Get("chains-project", "bump"); ok {
		t.Fatal("expected no entry in empty index")
	}
	last, err := idx.LastCheckedAt("chains-project", "bump")
	if err != nil || last != "" {
		t.Fatalf("LastCheckedAt = %q, %v, want empty/nil", last, err)
	}
}

func TestSetAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repositoryIndex.json")

	idx, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx.Set("chains-project", "bump", Entry{
		URL:           "https://github.com/chains-project/bump",
		LastCheckedAt: "2026-01-01 00:00:00",
	})
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	e, ok := reloaded.Get("chains-project", "bump")
	if !ok {
		t.Fatal("expected entry after reload")
	}
	if e.URL != "https://github.com/chains-project/bump" || e.LastCheckedAt != "2026-01-01 00:00:00" {
		t.Fatalf("reloaded entry = %+v", e)
	}
}

func TestDisjointKeysDoNotCollide(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "repositoryIndex.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx.Set("a", "one", Entry{URL: "u1"})
	idx.Set("b", "two", Entry{URL: "u2"})
	if _, ok := idx.Get("a", "one"); !ok {
		t.Fatal("missing a/one")
	}
	if _, ok := idx.Get("b", "two"); !ok {
		t.Fatal("missing b/two")
	}
}
