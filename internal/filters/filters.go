// Package filters implements the pure predicates the miner uses to decide
// whether a pull request is a breaking-update candidate. Ground:
// miner.PullRequestFilters.
package filters

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/chains-project/bump/internal/patchcache"
)

// pomXMLChange matches a unified diff header for an added pom.xml file.
var pomXMLChange = regexp.MustCompile(`(?m)^\+\+\+.*pom\.xml$`)

// dependencyVersionChange matches a single <dependency> block whose body
// contains exactly the two lines (one removed, one added) of a <version>
// change, mirroring the original's DOTALL+MULTILINE lookaround.
var dependencyVersionChange = regexp.MustCompile(`(?sm)<dependency>(.*?^[+-]\s*<version>.+</version>.*?){2}</dependency>`)

// Repository names a repository, shared between the forge client's search
// results and the miner's discovery pass so both can use the same type at
// their interface boundary.
type Repository struct {
	Owner string
	Name  string
}

// PullRequest is the subset of a forge pull request the filters need.
type PullRequest struct {
	Owner        string
	Repo         string
	Number       int
	ChangedFiles int
	Additions    int
	Deletions    int
	HeadRef      string
	HeadSHA      string
	CreatedAt    time.Time
}

// WorkflowRunLister looks up completed, failed pull-request workflow runs
// for a branch, so breaksBuild can check whether any of them ran against
// this PR's exact head commit.
type WorkflowRunLister interface {
	FailedPullRequestWorkflowRuns(ctx context.Context, owner, repo, branch string) ([]WorkflowRun, error)
}

// WorkflowRun is the subset of a workflow run breaksBuild needs.
type WorkflowRun struct {
	HeadSHA string
}

// DiffFetcher fetches a pull request's unified diff, used to decide
// changesOnlyDependencyVersionInPomXML when the patch cache misses.
type DiffFetcher interface {
	PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
}

// ChangesOnlyDependencyVersionInPomXML reports whether pr changes exactly
// one file, by exactly one addition and one deletion, and that change is a
// single <version> bump inside a pom.xml's <dependency> block. A PR that
// fails the predicate is evicted from cache, since its diff will never be
// read again this run.
func ChangesOnlyDependencyVersionInPomXML(ctx context.Context, cache *patchcache.Cache, fetcher DiffFetcher, pr PullRequest) (bool, error) {
	if pr.ChangedFiles != 1 || pr.Additions != 1 || pr.Deletions != 1 {
		return false, nil
	}

	diff, err := cache.GetOrFetchDiff(ctx, pr.Owner, pr.Repo, pr.Number, func(ctx context.Context) (string, error) {
		return fetcher.PullRequestDiff(ctx, pr.Owner, pr.Repo, pr.Number)
	})
	if err != nil {
		return false, err
	}

	if pomXMLChange.MatchString(diff) {
		// Match each block on its own so a match cannot run from one
		// block's <dependency> to a later block's </dependency>.
		for _, block := range strings.SplitAfter(diff, "</dependency>") {
			if dependencyVersionChange.MatchString(block) {
				return true, nil
			}
		}
	}
	cache.Remove(pr.Owner, pr.Repo, pr.Number)
	return false, nil
}

// BreaksBuild reports whether any completed, failed pull-request workflow
// run on pr's head branch ran against pr's exact head commit.
func BreaksBuild(ctx context.Context, lister WorkflowRunLister, pr PullRequest) (bool, error) {
	runs, err := lister.FailedPullRequestWorkflowRuns(ctx, pr.Owner, pr.Repo, pr.HeadRef)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.HeadSHA == pr.HeadSHA {
			return true, nil
		}
	}
	return false, nil
}

// CreatedBefore reports whether pr was created strictly before t, used to
// short-circuit a paginated walk once mining reaches the search cutoff.
func CreatedBefore(pr PullRequest, t time.Time) bool {
	return pr.CreatedAt.Before(t)
}
