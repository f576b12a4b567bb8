// Package forge wraps github.com/google/go-github for every GitHub
// operation the miner, filters, and result manager need: pull-request
// search, diffs, workflow runs, repository contents, and the tree/commit
// primitives used to push files into the cache repository. Ground:
// pkg/infra/github/client.go in the pack, swapping GitHub-App auth for
// per-token auth since the Token Pool hands out personal access tokens.
package forge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/chains-project/bump/internal/filters"
	"github.com/chains-project/bump/internal/tokenpool"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// pullRequestTrigger matches a YAML "on:" block naming pull_request,
// either bare or as part of a list/mapping of events.
var pullRequestTrigger = regexp.MustCompile(`(?m)^\s*(-\s*)?pull_request\s*:?\s*$`)

// Client is a thin GitHub REST wrapper bound to one token from the pool.
// The search, pull-request, diff, workflow-run, file-content and commit
// calls recheck the response's rate-limit headers and, if they are past the
// cutoff, block via tokenpool.RateLimitHook before returning. HasFile,
// TagExists and PushFile do not check the rate-limit headers, and no call
// reacts to GitHub's secondary (abuse) rate limit.
type Client struct {
	gh     *github.Client
	token  string
	logger *slog.Logger
}

// New returns a Client authenticated with token.
func New(token string, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Client{gh: github.NewClient(httpClient), token: token, logger: logger}
}

// NewFromPool returns a Client authenticated with the least-recently-used
// token in pool, per spec.md §4.1's "acquire a credential per connection"
// contract.
func NewFromPool(pool *tokenpool.Pool, logger *slog.Logger) *Client {
	return New(pool.Acquire(), logger)
}

// checkLimits inspects resp's rate-limit headers and blocks via
// tokenpool.RateLimitHook if the caller is near its cutoff.
func (c *Client) checkLimits(ctx context.Context, resp *github.Response) error {
	if resp == nil || resp.Rate.Limit == 0 {
		return nil
	}
	return tokenpool.RateLimitHook(ctx, c.logger, c.token, resp.Rate.Remaining, resp.Rate.Reset.Time)
}

// PullRequest is the pull-request data the miner needs: enough for
// filters.PullRequest plus the PR author identity needed to build a
// BreakingUpdate record.
type PullRequest struct {
	Owner, Repo                      string
	Number                           int
	ChangedFiles, Additions, Deletions int
	HeadRef, HeadSHA                 string
	CreatedAt                        time.Time
	AuthorLogin                      string
	AuthorIsBot                      bool
}

// SearchMergedPullRequests searches for merged pull requests in owner/repo,
// in descending creation order, used by the miner's paginated walk.
// Ground: GitHubMiner.mineRepositories's queryPullRequests walk.
func (c *Client) SearchMergedPullRequests(ctx context.Context, owner, repo string, page int) ([]PullRequest, bool, error) {
	query := fmt.Sprintf("repo:%s/%s is:pr is:merged", owner, repo)
	opts := &github.SearchOptions{
		Sort:        "created",
		Order:       "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: 50},
	}
	result, resp, err := c.gh.Search.Issues(ctx, query, opts)
	if err != nil {
		return nil, false, fmt.Errorf("searching merged pull requests in %s/%s: %w", owner, repo, err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return nil, false, err
	}

	prs := make([]PullRequest, 0, len(result.Issues))
	for _, issue := range result.Issues {
		pr, prResp, err := c.gh.PullRequests.Get(ctx, owner, repo, issue.GetNumber())
		if err != nil {
			return nil, false, fmt.Errorf("fetching pull request %s/%s#%d: %w", owner, repo, issue.GetNumber(), err)
		}
		if err := c.checkLimits(ctx, prResp); err != nil {
			return nil, false, err
		}
		prs = append(prs, PullRequest{
			Owner:         owner,
			Repo:          repo,
			Number:        pr.GetNumber(),
			ChangedFiles:  pr.GetChangedFiles(),
			Additions:     pr.GetAdditions(),
			Deletions:     pr.GetDeletions(),
			HeadRef:       pr.GetHead().GetRef(),
			HeadSHA:       pr.GetHead().GetSHA(),
			CreatedAt:     pr.GetCreatedAt().Time,
			AuthorLogin:   pr.GetUser().GetLogin(),
			AuthorIsBot:   pr.GetUser().GetType() == "Bot",
		})
	}
	return prs, resp.NextPage != 0, nil
}

// SearchJavaRepositories searches for non-fork Java repositories with at
// least minStars stars created on createdDate, sorted by stars descending.
// It returns filters.Repository directly so *Client satisfies the miner's
// RepositoryProbe interface without an adapter. Ground: GitHubMiner.searchForRepos.
func (c *Client) SearchJavaRepositories(ctx context.Context, minStars int, createdDate time.Time, page int) ([]filters.Repository, bool, error) {
	query := fmt.Sprintf("language:Java fork:false stars:>=%d created:%s", minStars, createdDate.Format("2006-01-02"))
	opts := &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: 100},
	}
	result, resp, err := c.gh.Search.Repositories(ctx, query, opts)
	if err != nil {
		return nil, false, fmt.Errorf("searching repositories created %s: %w", createdDate.Format("2006-01-02"), err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return nil, false, err
	}
	repos := make([]filters.Repository, 0, len(result.Repositories))
	for _, r := range result.Repositories {
		repos = append(repos, filters.Repository{Owner: r.GetOwner().GetLogin(), Name: r.GetName()})
	}
	return repos, resp.NextPage != 0, nil
}

// HasFile reports whether path exists at the repository's default branch,
// used to probe for a root pom.xml (Maven project detection).
func (c *Client) HasFile(ctx context.Context, owner, repo, path string) (bool, error) {
	_, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("checking for %s in %s/%s: %w", path, owner, repo, err)
	}
	return true, nil
}

// HasPullRequestWorkflow reports whether any workflow file under
// .github/workflows declares a pull_request trigger.
func (c *Client) HasPullRequestWorkflow(ctx context.Context, owner, repo string) (bool, error) {
	_, dirContents, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, ".github/workflows", nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("listing workflows in %s/%s: %w", owner, repo, err)
	}
	for _, entry := range dirContents {
		content, err := c.FileContent(ctx, owner, repo, "", entry.GetPath())
		if err != nil {
			continue
		}
		if pullRequestTrigger.Match(content) {
			return true, nil
		}
	}
	return false, nil
}

// PullRequestDiff fetches a pull request's unified diff.
func (c *Client) PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	raw, resp, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("fetching diff for %s/%s#%d: %w", owner, repo, number, err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return "", err
	}
	return raw, nil
}

// FailedPullRequestWorkflowRuns lists completed, failed pull-request
// workflow runs on branch, used by filters.BreaksBuild. It returns
// filters.WorkflowRun directly so *Client satisfies filters.WorkflowRunLister
// without an adapter.
func (c *Client) FailedPullRequestWorkflowRuns(ctx context.Context, owner, repo, branch string) ([]filters.WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      branch,
		Event:       "pull_request",
		Status:      "completed",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []filters.WorkflowRun
	for {
		runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing workflow runs for %s/%s branch %s: %w", owner, repo, branch, err)
		}
		if err := c.checkLimits(ctx, resp); err != nil {
			return nil, err
		}
		for _, run := range runs.WorkflowRuns {
			if run.GetConclusion() == "failure" {
				out = append(out, filters.WorkflowRun{HeadSHA: run.GetHeadSHA()})
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// FileContent fetches a file's content at ref, decoding it from the
// base64-encoded contents API response.
func (c *Client) FileContent(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	fileContent, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, fmt.Errorf("fetching content of %s at %s/%s@%s: %w", path, owner, repo, ref, err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return nil, err
	}
	if fileContent == nil {
		return nil, fmt.Errorf("path %s at %s/%s@%s is not a file", path, owner, repo, ref)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s: %w", path, err)
	}
	return []byte(content), nil
}

// User is the subset of a forge user the author classifier needs.
type User struct {
	Login string
	Bot   bool
	Found bool
}

// CommitAuthor fetches the GitHub user who authored commit sha.
func (c *Client) CommitAuthor(ctx context.Context, owner, repo, sha string) (User, error) {
	commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return User{}, fmt.Errorf("fetching commit %s/%s@%s: %w", owner, repo, sha, err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return User{}, err
	}
	author := commit.GetAuthor()
	if author == nil {
		return User{Found: false}, nil
	}
	return User{Login: author.GetLogin(), Bot: author.GetType() == "Bot", Found: true}, nil
}

// CommitParentSHA fetches commit sha's first parent SHA, used to resolve
// the pre-commit (spec.md's "immediate parent of the breaking commit") as
// an actual git ancestor rather than the pull request's base ref, which
// can have moved past the commit the PR was actually opened against.
func (c *Client) CommitParentSHA(ctx context.Context, owner, repo, sha string) (string, error) {
	commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return "", fmt.Errorf("fetching commit %s/%s@%s: %w", owner, repo, sha, err)
	}
	if err := c.checkLimits(ctx, resp); err != nil {
		return "", err
	}
	if len(commit.Parents) == 0 {
		return "", fmt.Errorf("commit %s/%s@%s has no parents", owner, repo, sha)
	}
	return commit.Parents[0].GetSHA(), nil
}

// TagExists reports whether owner/repo has a tag named tag, used to decide
// whether a GitHub compare link between two dependency versions is safe to
// publish (spec.md §4.7's "both tags must exist").
func (c *Client) TagExists(ctx context.Context, owner, repo, tag string) (bool, error) {
	_, resp, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/tags/"+tag)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("checking tag %s in %s/%s: %w", tag, owner, repo, err)
	}
	return true, nil
}

// PushFile commits a single file to branch of the cache repository,
// creating a tree off the branch tip and fast-forwarding the branch to the
// resulting commit. Ground: reproducer.ResultManager.pushFiles,
// reimplemented against go-github's tree/commit primitives instead of
// org.kohsuke.github.
func (c *Client) PushFile(ctx context.Context, owner, repo, branch, path string, content []byte, message string) error {
	ref, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		return fmt.Errorf("fetching branch ref %s/%s@%s: %w", owner, repo, branch, err)
	}
	baseSHA := ref.Object.GetSHA()

	blobContent := base64.StdEncoding.EncodeToString(content)
	blob, _, err := c.gh.Git.CreateBlob(ctx, owner, repo, github.Blob{
		Content:  github.Ptr(blobContent),
		Encoding: github.Ptr("base64"),
	})
	if err != nil {
		return fmt.Errorf("creating blob for %s: %w", path, err)
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, owner, repo, baseSHA, []*github.TreeEntry{
		{Path: github.Ptr(path), Mode: github.Ptr("100644"), Type: github.Ptr("blob"), SHA: blob.SHA},
	})
	if err != nil {
		return fmt.Errorf("creating tree for %s: %w", path, err)
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, repo, github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(baseSHA)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("creating commit for %s: %w", path, err)
	}

	if _, _, err := c.gh.Git.UpdateRef(ctx, owner, repo, "refs/heads/"+branch, github.UpdateRef{SHA: commit.GetSHA()}); err != nil {
		return fmt.Errorf("updating branch ref %s/%s@%s: %w", owner, repo, branch, err)
	}
	return nil
}
