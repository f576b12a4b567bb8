package miner

import (
	"context"

	"github.com/chains-project/bump/internal/filters"
	"github.com/chains-project/bump/internal/forge"
)

// ForgeAdapter wraps a *forge.Client to satisfy the Forge interface.
// PullRequestDiff, FailedPullRequestWorkflowRuns, and CommitParentSHA are
// promoted straight from the embedded client, since forge.Client already
// returns the shared filters types (or a bare string) for those;
// MergedPullRequests and CommitAuthor need a small conversion from forge's
// wire-level types into this package's.
type ForgeAdapter struct {
	*forge.Client
}

// NewForgeAdapter wraps client so it satisfies Forge.
func NewForgeAdapter(client *forge.Client) *ForgeAdapter {
	return &ForgeAdapter{Client: client}
}

// MergedPullRequests converts forge.Client.SearchMergedPullRequests's
// results into PullRequestRef.
func (a *ForgeAdapter) MergedPullRequests(ctx context.Context, owner, repo string, page int) ([]PullRequestRef, bool, error) {
	prs, hasMore, err := a.Client.SearchMergedPullRequests(ctx, owner, repo, page)
	if err != nil {
		return nil, false, err
	}
	out := make([]PullRequestRef, 0, len(prs))
	for _, pr := range prs {
		out = append(out, PullRequestRef{
			PullRequest: filters.PullRequest{
				Owner:        pr.Owner,
				Repo:         pr.Repo,
				Number:       pr.Number,
				ChangedFiles: pr.ChangedFiles,
				Additions:    pr.Additions,
				Deletions:    pr.Deletions,
				HeadRef:      pr.HeadRef,
				HeadSHA:      pr.HeadSHA,
				CreatedAt:    pr.CreatedAt,
			},
			HeadCommitSHA: pr.HeadSHA,
			AuthorLogin:   pr.AuthorLogin,
			AuthorIsBot:   pr.AuthorIsBot,
		})
	}
	return out, hasMore, nil
}

// CommitAuthor converts forge.Client.CommitAuthor's result into CommitAuthor.
func (a *ForgeAdapter) CommitAuthor(ctx context.Context, owner, repo, sha string) (CommitAuthor, error) {
	user, err := a.Client.CommitAuthor(ctx, owner, repo, sha)
	if err != nil {
		return CommitAuthor{}, err
	}
	return CommitAuthor{Login: user.Login, Bot: user.Bot, Found: user.Found}, nil
}
