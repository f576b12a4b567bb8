package filters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chains-project/bump/internal/patchcache"
)

type stubFetcher struct {
	diff string
	err  error
}

func (s stubFetcher) PullRequestDiff(context.Context, string, string, int) (string, error) {
	return s.diff, s.err
}

const versionBumpDiff = `diff --git a/pom.xml b/pom.xml
--- a/pom.xml
+++ b/pom.xml
@@ -5,7 +5,7 @@
   <dependency>
     <groupId>org.eclipse.jetty</groupId>
     <artifactId>jetty-server</artifactId>
-    <version>9.4.17.v20190418</version>
+    <version>10.0.10</version>
   </dependency>
`

func TestChangesOnlyDependencyVersionInPomXMLAccepts(t *testing.T) {
	cache := patchcache.New()
	pr := PullRequest{Owner: "o", Repo: "r", Number: 1, ChangedFiles: 1, Additions: 1, Deletions: 1}

	ok, err := ChangesOnlyDependencyVersionInPomXML(context.Background(), cache, stubFetcher{diff: versionBumpDiff}, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected predicate to accept a single version bump")
	}
}

func TestChangesOnlyDependencyVersionInPomXMLRejectsMultiFile(t *testing.T) {
	cache := patchcache.New()
	pr := PullRequest{Owner: "o", Repo: "r", Number: 1, ChangedFiles: 2, Additions: 1, Deletions: 1}

	ok, err := ChangesOnlyDependencyVersionInPomXML(context.Background(), cache, stubFetcher{diff: versionBumpDiff}, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected predicate to reject a multi-file change")
	}
}

func TestChangesOnlyDependencyVersionInPomXMLEvictsOnReject(t *testing.T) {
	cache := patchcache.New()
	pr := PullRequest{Owner: "o", Repo: "r", Number: 1, ChangedFiles: 1, Additions: 1, Deletions: 1}
	nonMatchingDiff := "--- a/README.md\n+++ b/README.md\n"

	ok, err := ChangesOnlyDependencyVersionInPomXML(context.Background(), cache, stubFetcher{diff: nonMatchingDiff}, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected predicate to reject a non-pom change")
	}
	if _, hit := cache.Diff("o", "r", 1); hit {
		t.Fatal("expected rejected PR's diff to be evicted from cache")
	}
}

func TestChangesOnlyDependencyVersionInPomXMLPropagatesFetchError(t *testing.T) {
	cache := patchcache.New()
	pr := PullRequest{Owner: "o", Repo: "r", Number: 1, ChangedFiles: 1, Additions: 1, Deletions: 1}

	_, err := ChangesOnlyDependencyVersionInPomXML(context.Background(), cache, stubFetcher{err: errors.New("network")}, pr)
	if err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

type stubLister struct {
	runs []WorkflowRun
	err  error
}

func (s stubLister) FailedPullRequestWorkflowRuns(context.Context, string, string, string) ([]WorkflowRun, error) {
	return s.runs, s.err
}

func TestBreaksBuildMatchesExactHeadSHA(t *testing.T) {
	pr := PullRequest{Owner: "o", Repo: "r", HeadRef: "feature", HeadSHA: "abc123"}
	lister := stubLister{runs: []WorkflowRun{{HeadSHA: "def456"}, {HeadSHA: "abc123"}}}

	ok, err := BreaksBuild(context.Background(), lister, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected match on exact head SHA")
	}
}

func TestBreaksBuildNoMatchingRuns(t *testing.T) {
	pr := PullRequest{Owner: "o", Repo: "r", HeadRef: "feature", HeadSHA: "abc123"}
	lister := stubLister{runs: []WorkflowRun{{HeadSHA: "def456"}}}

	ok, err := BreaksBuild(context.Background(), lister, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestCreatedBefore(t *testing.T) {
	cutoff := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	older := PullRequest{CreatedAt: cutoff.Add(-time.Hour)}
	newer := PullRequest{CreatedAt: cutoff.Add(time.Hour)}

	if !CreatedBefore(older, cutoff) {
		t.Fatal("expected older PR to be created before cutoff")
	}
	if CreatedBefore(newer, cutoff) {
		t.Fatal("expected newer PR not to be created before cutoff")
	}
}
