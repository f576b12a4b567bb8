// Package patchcache memoizes the two expensive forge fetches the miner and
// reproducer repeat across candidates: a pull request's unified diff, and a
// file's content at a given commit. Both caches tolerate concurrent
// duplicate fetches (spec.md §3/§5) rather than coordinating a single-flight
// fetch, since a handful of wasted duplicate requests is cheaper than the
// bookkeeping needed to avoid them.
package patchcache

import (
	"context"
	"sync"
)

// diffKey identifies a pull request's diff by repository and number.
type diffKey struct {
	owner, repo string
	number      int
}

// contentKey identifies a file's content by repository, commit, and path.
type contentKey struct {
	owner, repo, commit, path string
}

// Cache memoizes diff and file-content lookups for a single mining or
// reproduction run. The zero value is not usable; use New.
type Cache struct {
	diffs    sync.Map // diffKey -> string
	contents sync.Map // contentKey -> []byte
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{}
}

// Diff returns the cached diff for the given pull request, if present.
func (c *Cache) Diff(owner, repo string, number int) (string, bool) {
	v, ok := c.diffs.Load(diffKey{owner, repo, number})
	if !ok {
		return "", false
	}
	return v.(string), true
}

// StoreDiff records a pull request's diff. Concurrent stores for the same
// key are tolerated; the last write wins.
func (c *Cache) StoreDiff(owner, repo string, number int, diff string) {
	c.diffs.Store(diffKey{owner, repo, number}, diff)
}

// Content returns the cached file content at the given commit, if present.
func (c *Cache) Content(owner, repo, commit, path string) ([]byte, bool) {
	v, ok := c.contents.Load(contentKey{owner, repo, commit, path})
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// StoreContent records a file's content at a commit.
func (c *Cache) StoreContent(owner, repo, commit, path string, content []byte) {
	c.contents.Store(contentKey{owner, repo, commit, path}, content)
}

// Remove evicts a cached diff, used when a candidate is discarded and its
// diff will never be re-read during this run.
func (c *Cache) Remove(owner, repo string, number int) {
	c.diffs.Delete(diffKey{owner, repo, number})
}

// GetOrFetchDiff returns the cached diff for a pull request, calling fetch
// on a miss and caching the result only on success. A fetch failure is
// returned to the caller rather than cached, so a later retry can succeed
// once the transient condition clears (spec.md §4.2).
func (c *Cache) GetOrFetchDiff(ctx context.Context, owner, repo string, number int, fetch func(context.Context) (string, error)) (string, error) {
	if diff, ok := c.Diff(owner, repo, number); ok {
		return diff, nil
	}
	diff, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.StoreDiff(owner, repo, number, diff)
	return diff, nil
}

// GetOrFetchContent returns the cached file content at a commit, calling
// fetch on a miss and caching the result only on success.
func (c *Cache) GetOrFetchContent(ctx context.Context, owner, repo, commit, path string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if content, ok := c.Content(owner, repo, commit, path); ok {
		return content, nil
	}
	content, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.StoreContent(owner, repo, commit, path, content)
	return content, nil
}
