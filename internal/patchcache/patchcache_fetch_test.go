package patchcache

import (
	"context"
	"errors"
	"testing"
)

func TestGetOrFetchDiffCachesOnSuccess(t *testing.T) {
	c := New()
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "fetched diff", nil
	}

	for i := 0; i < 3; i++ {
		diff, err := c.GetOrFetchDiff(context.Background(), "o", "r", 1, fetch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff != "fetched diff" {
			t.Fatalf("diff = %q", diff)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
}

func TestGetOrFetchDiffDoesNotCacheFailure(t *testing.T) {
	c := New()
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "", errors.New("network failure")
	}

	if _, err := c.GetOrFetchDiff(context.Background(), "o", "r", 1, fetch); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.GetOrFetchDiff(context.Background(), "o", "r", 1, fetch); err == nil {
		t.Fatal("expected error on retry")
	}
	if calls != 2 {
		t.Fatalf("fetch called %d times, want 2 (no caching of failure)", calls)
	}
}

func TestGetOrFetchContentCachesOnSuccess(t *testing.T) {
	c := New()
	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte("content"), nil
	}

	for i := 0; i < 2; i++ {
		content, err := c.GetOrFetchContent(context.Background(), "o", "r", "abc", "pom.xml", fetch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(content) != "content" {
			t.Fatalf("content = %q", content)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
}
