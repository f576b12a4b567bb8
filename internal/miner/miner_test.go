package miner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chains-project/bump/internal/filters"
	"github.com/chains-project/bump/internal/patchcache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProbe struct {
	reposByDay map[string][]RepositoryRef
	mavenRepos map[string]bool
	prRepos    map[string]bool
}

func (f *fakeProbe) SearchJavaRepositories(ctx context.Context, minStars int, createdDate time.Time, page int) ([]RepositoryRef, bool, error) {
	if page > 0 {
		return nil, false, nil
	}
	return f.reposByDay[createdDate.Format("2006-01-02")], false, nil
}

func (f *fakeProbe) HasFile(ctx context.Context, owner, repo, path string) (bool, error) {
	return f.mavenRepos[owner+"/"+repo], nil
}

func (f *fakeProbe) HasPullRequestWorkflow(ctx context.Context, owner, repo string) (bool, error) {
	return f.prRepos[owner+"/"+repo], nil
}

func TestFindFiltersToMavenProjectsWithPullRequestCI(t *testing.T) {
	probe := &fakeProbe{
		reposByDay: map[string][]RepositoryRef{
			"2024-01-02": {{Owner: "acme", Name: "widget"}, {Owner: "acme", Name: "gadget"}},
		},
		mavenRepos: map[string]bool{"acme/widget": true, "acme/gadget": true},
		prRepos:    map[string]bool{"acme/widget": true},
	}
	found, err := Find(context.Background(), probe, discardLogger(), FindOptions{
		MinStars:   10,
		CutoffYear: 2024,
		Today:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].Name != "widget" {
		t.Fatalf("found = %+v", found)
	}
}

type fakeForge struct {
	prs            map[int][]PullRequestRef
	diffs          map[int]string
	failedBranches map[string]string // branch -> head SHA that failed CI
	authors        map[string]CommitAuthor
	parents        map[string]string // commit SHA -> first parent SHA
}

func (f *fakeForge) MergedPullRequests(ctx context.Context, owner, repo string, page int) ([]PullRequestRef, bool, error) {
	return f.prs[page], false, nil
}

func (f *fakeForge) PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	return f.diffs[number], nil
}

func (f *fakeForge) FailedPullRequestWorkflowRuns(ctx context.Context, owner, repo, branch string) ([]filters.WorkflowRun, error) {
	sha, ok := f.failedBranches[branch]
	if !ok {
		return nil, nil
	}
	return []filters.WorkflowRun{{HeadSHA: sha}}, nil
}

func (f *fakeForge) CommitAuthor(ctx context.Context, owner, repo, sha string) (CommitAuthor, error) {
	return f.authors[sha], nil
}

func (f *fakeForge) CommitParentSHA(ctx context.Context, owner, repo, sha string) (string, error) {
	return f.parents[sha], nil
}

const sampleDiff = `diff --git a/pom.xml b/pom.xml
--- a/pom.xml
+++ b/pom.xml
@@ -10,7 +10,7 @@
 <dependency>
   <groupId>org.example</groupId>
   <artifactId>thing</artifactId>
-  <version>1.0.0</version>
+  <version>2.0.0</version>
 </dependency>
`

func TestMineFindsBreakingUpdateAndSkipsNonMatches(t *testing.T) {
	forge := &fakeForge{
		prs: map[int][]PullRequestRef{
			0: {
				{
					PullRequest: filters.PullRequest{
						Owner: "acme", Repo: "widget", Number: 1,
						ChangedFiles: 1, Additions: 1, Deletions: 1,
						HeadRef: "bump-1", HeadSHA: "head1",
					},
					HeadCommitSHA: "head1",
					AuthorLogin: "dependabot[bot]", AuthorIsBot: true,
				},
				{
					PullRequest: filters.PullRequest{
						Owner: "acme", Repo: "widget", Number: 2,
						ChangedFiles: 2, Additions: 1, Deletions: 1,
						HeadRef: "bump-2", HeadSHA: "head2",
					},
					HeadCommitSHA: "head2",
				},
			},
		},
		diffs:          map[int]string{1: sampleDiff, 2: sampleDiff},
		failedBranches: map[string]string{"bump-1": "head1"},
		authors: map[string]CommitAuthor{
			"base1": {Login: "maintainer", Found: true},
			"head1": {Login: "dependabot[bot]", Bot: true, Found: true},
		},
		parents: map[string]string{"head1": "base1"},
	}

	results, err := Mine(context.Background(), forge, patchcache.New(), discardLogger(), MineOptions{Owner: "acme", Repo: "widget"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	bu := results[0]
	if bu.BreakingCommit != "head1" {
		t.Fatalf("BreakingCommit = %q", bu.BreakingCommit)
	}
	if bu.UpdatedDependency.NewVersion != "2.0.0" {
		t.Fatalf("NewVersion = %q", bu.UpdatedDependency.NewVersion)
	}
}

func TestMineAllRunsRepositoriesConcurrently(t *testing.T) {
	forge := &fakeForge{prs: map[int][]PullRequestRef{}}
	results, err := MineAll(context.Background(),
		func() Forge { return forge },
		patchcache.New,
		discardLogger(), 2,
		[]MineOptions{{Owner: "acme", Repo: "widget"}, {Owner: "acme", Repo: "gadget"}},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := results["acme/widget"]; !ok {
		t.Fatal("missing acme/widget in results")
	}
	if _, ok := results["acme/gadget"]; !ok {
		t.Fatal("missing acme/gadget in results")
	}
}
