// Package reproducer drives the pre/post container state machine that
// attempts to reproduce a candidate breaking update: build the commit
// before the bump, then the bump itself, and record which failure (if any)
// the bump introduced. Ground: reproducer.BreakingUpdateReproducer.
package reproducer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chains-project/bump/internal/candidate"
	"github.com/chains-project/bump/internal/classifier"
	"github.com/chains-project/bump/internal/containerrun"
)

// classifyFn is a package-level hook so tests can substitute a canned
// classifier without depending on classifier's actual log patterns.
var classifyFn = classifier.Classify

// Runner is the subset of *containerrun.Runner the reproducer drives. A
// narrow interface here lets tests exercise the state machine against a
// fake Docker daemon instead of a live one.
type Runner interface {
	EnsureImage(ctx context.Context, image string) error
	Create(ctx context.Context, opts containerrun.CreateOptions) (string, error)
	Start(ctx context.Context, containerID string) error
	Wait(ctx context.Context, containerID string) (int64, error)
	CopyFileFromContainer(ctx context.Context, containerID, path string) ([]byte, error)
	Commit(ctx context.Context, containerID, repository, tag string, cmd []string, workingDir string, labels map[string]string) error
	Remove(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, image string) error
}

// CreateOptions is an alias of containerrun.CreateOptions for call sites in
// this package.
type CreateOptions = containerrun.CreateOptions

const exitCodeOK = 0

// Options configures one reproduction attempt.
type Options struct {
	BaseImage   string
	MaxAttempts int // the "≤3" flakiness budget
}

// Outcome is the result of attempting to reproduce one candidate. Exactly
// one of the three terminal states holds: pre never went green (Reproduced
// false, PreWentGreen false), post never broke or broke inconsistently
// (Reproduced false, PreWentGreen true), or post broke the same way across
// MaxAttempts runs (Reproduced true).
type Outcome struct {
	Reproduced      bool
	Flaky           bool
	PreWentGreen    bool
	FailureCategory candidate.FailureCategory
	Log             string
	PreImageTag     string
	PostImageTag    string
	BaseImageTag    string
}

// Reproduce attempts to reproduce bu: clone the project at its breaking
// commit into a :base image, then run the preceding commit's build
// (retrying only on TEST_FAILURE, per the flakiness policy) and, if it went
// green, the breaking commit's build (requiring the same failure category
// across MaxAttempts consecutive runs before trusting it as a real, stable
// breakage).
func Reproduce(ctx context.Context, runner Runner, logger *slog.Logger, bu *candidate.BreakingUpdate, opts Options) (*Outcome, error) {
	baseTag := bu.BreakingCommit + ":base"
	if err := runner.EnsureImage(ctx, opts.BaseImage); err != nil {
		return nil, fmt.Errorf("ensuring base image: %w", err)
	}

	if err := createBaseImage(ctx, runner, logger, bu, opts.BaseImage, baseTag); err != nil {
		return nil, fmt.Errorf("creating base image for %s: %w", bu.BreakingCommit, err)
	}
	defer func() {
		if err := runner.RemoveImage(ctx, baseTag); err != nil {
			logger.Warn("failed to remove base image", "image", baseTag, "error", err)
		}
	}()

	logPath := fmt.Sprintf("/%s/%s.log", bu.Project, bu.BreakingCommit)

	preID, prePassed, _, _, err := runPreCommit(ctx, runner, logger, baseTag, preCommitCmd(bu), logPath, opts.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("running preceding commit for %s: %w", bu.BreakingCommit, err)
	}
	if !prePassed {
		removeContainer(ctx, runner, logger, preID)
		logger.Info("build already failing before breaking commit, discarding candidate", "commit", bu.BreakingCommit)
		return &Outcome{Reproduced: false, PreWentGreen: false}, nil
	}

	preImageTag := bu.BreakingCommit + ":pre"
	preRepo, preTag := baseImageParts(preImageTag)
	if err := runner.Commit(ctx, preID, preRepo, preTag, nil, projectWorkDir(bu.Project), nil); err != nil {
		removeContainer(ctx, runner, logger, preID)
		return nil, fmt.Errorf("snapshotting pre container for %s: %w", bu.BreakingCommit, err)
	}
	removeContainer(ctx, runner, logger, preID)

	postID, broke, flaky, category, log, err := runPostCommit(ctx, runner, logger, baseTag, breakingCommitCmd(bu), logPath, opts.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("running breaking commit for %s: %w", bu.BreakingCommit, err)
	}
	if !broke {
		removeContainer(ctx, runner, logger, postID)
		if flaky {
			logger.Info("breaking commit produced inconsistent failures across attempts, discarding candidate", "commit", bu.BreakingCommit)
			return &Outcome{Reproduced: false, Flaky: true, PreWentGreen: true}, nil
		}
		logger.Info("breaking commit still builds cleanly, discarding candidate", "commit", bu.BreakingCommit)
		return &Outcome{Reproduced: false, PreWentGreen: true}, nil
	}

	postImageTag := bu.BreakingCommit + ":post"
	postRepo, postTag := baseImageParts(postImageTag)
	if err := runner.Commit(ctx, postID, postRepo, postTag, nil, projectWorkDir(bu.Project), nil); err != nil {
		removeContainer(ctx, runner, logger, postID)
		return nil, fmt.Errorf("snapshotting post container for %s: %w", bu.BreakingCommit, err)
	}
	removeContainer(ctx, runner, logger, postID)

	return &Outcome{
		Reproduced:      true,
		PreWentGreen:    true,
		FailureCategory: category,
		Log:             log,
		PreImageTag:     preImageTag,
		PostImageTag:    postImageTag,
		BaseImageTag:    baseTag,
	}, nil
}

// createBaseImage clones the project and fetches the breaking commit into
// a container, then commits it as commit:base for the build attempts to
// start from. Ground: BreakingUpdateReproducer.createImageForBreakingUpdate.
func createBaseImage(ctx context.Context, runner Runner, logger *slog.Logger, bu *candidate.BreakingUpdate, baseImage, baseTag string) error {
	projectURL := stripPullRequestSuffix(bu.URL)
	workDir := projectWorkDir(bu.Project)
	cmd := fmt.Sprintf("git clone %s . && git fetch --depth 2 origin %s",
		shellEscape(projectURL), shellEscape(bu.BreakingCommit))

	id, err := runner.Create(ctx, CreateOptions{Image: baseImage, Cmd: []string{"/bin/bash", "-c", cmd}, WorkingDir: workDir})
	if err != nil {
		return err
	}
	defer removeContainer(ctx, runner, logger, id)

	if err := runner.Start(ctx, id); err != nil {
		return err
	}
	exit, err := runner.Wait(ctx, id)
	if err != nil {
		return err
	}
	if exit != exitCodeOK {
		return fmt.Errorf("clone/fetch exited %d", exit)
	}

	repo, tag := baseImageParts(baseTag)
	return runner.Commit(ctx, id, repo, tag, nil, workDir, nil)
}

// projectWorkDir is where the project is cloned inside every reproduction
// container, matching the log path /<project>/<commit>.log the result
// manager reads back out.
func projectWorkDir(project string) string {
	return "/" + project
}

// runPreCommit runs cmd against baseTag up to maxAttempts times. A zero
// exit passes immediately. A non-zero exit classified as TEST_FAILURE is
// retried; any other category stops the budget immediately and is treated
// as "not green". Returns the final attempt's container ID (kept around so
// the caller can either snapshot it on success or inspect its log on
// failure), whether it passed, its log, and its category.
func runPreCommit(ctx context.Context, runner Runner, logger *slog.Logger, baseTag, cmd, logPath string, maxAttempts int) (containerID string, passed bool, log string, category candidate.FailureCategory, err error) {
	var lastID string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastID != "" {
			removeContainer(ctx, runner, logger, lastID)
		}
		id, runErr := runAndWait(ctx, runner, baseTag, cmd)
		if runErr != nil {
			return "", false, "", "", runErr
		}
		lastID = id.id
		if id.exit == exitCodeOK {
			return id.id, true, "", "", nil
		}

		l, classifyErr := copyLog(ctx, runner, id.id, logPath)
		if classifyErr != nil {
			return id.id, false, "", "", classifyErr
		}
		cat := classifyFn(l)
		if cat != candidate.TestFailure {
			return id.id, false, l, cat, nil
		}
		log, category = l, cat
	}
	return lastID, false, log, category, nil
}

// runPostCommit runs cmd against baseTag, requiring maxAttempts consecutive
// non-zero exits with the same failure category before trusting the
// breakage as stable. A zero exit at any point means the breaking commit
// did not actually break the build. A category mismatch between attempts
// means the failure is flaky, not the update's fault.
func runPostCommit(ctx context.Context, runner Runner, logger *slog.Logger, baseTag, cmd, logPath string, maxAttempts int) (containerID string, broke bool, flaky bool, category candidate.FailureCategory, log string, err error) {
	var lastCategory candidate.FailureCategory
	var lastID string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastID != "" && attempt > 1 {
			removeContainer(ctx, runner, logger, lastID)
		}
		result, runErr := runAndWait(ctx, runner, baseTag, cmd)
		if runErr != nil {
			return "", false, false, "", "", runErr
		}
		lastID = result.id
		if result.exit == exitCodeOK {
			return result.id, false, false, "", "", nil
		}

		l, classifyErr := copyLog(ctx, runner, result.id, logPath)
		if classifyErr != nil {
			return result.id, false, false, "", "", classifyErr
		}
		cat := classifyFn(l)
		if attempt > 1 && cat != lastCategory {
			return result.id, false, true, "", "", nil
		}
		lastCategory, log = cat, l
	}
	return lastID, true, false, lastCategory, log, nil
}

type runResult struct {
	id   string
	exit int64
}

func runAndWait(ctx context.Context, runner Runner, baseTag, cmd string) (runResult, error) {
	id, err := runner.Create(ctx, CreateOptions{Image: baseTag, Cmd: []string{"bash", "-c", cmd}})
	if err != nil {
		return runResult{}, err
	}
	if err := runner.Start(ctx, id); err != nil {
		return runResult{id: id}, err
	}
	exit, err := runner.Wait(ctx, id)
	if err != nil {
		return runResult{id: id}, err
	}
	return runResult{id: id, exit: exit}, nil
}

func copyLog(ctx context.Context, runner Runner, containerID, logPath string) (string, error) {
	content, err := runner.CopyFileFromContainer(ctx, containerID, logPath)
	if err != nil {
		return "", fmt.Errorf("copying build log from %s: %w", containerID, err)
	}
	return string(content), nil
}

func removeContainer(ctx context.Context, runner Runner, logger *slog.Logger, id string) {
	if id == "" {
		return
	}
	if err := runner.Remove(ctx, id); err != nil {
		logger.Warn("failed to remove container", "container", id, "error", err)
	}
}

// preCommitCmd is the shell command that checks out the commit preceding
// the breaking update and runs the test suite.
func preCommitCmd(bu *candidate.BreakingUpdate) string {
	commit := shellEscape(bu.BreakingCommit)
	return fmt.Sprintf("set -o pipefail && git checkout %s && git checkout HEAD~1 && rm -rf .git && mvn clean test -B | tee %s.log",
		commit, commit)
}

// breakingCommitCmd is the shell command that checks out the breaking
// commit itself and runs the test suite.
func breakingCommitCmd(bu *candidate.BreakingUpdate) string {
	commit := shellEscape(bu.BreakingCommit)
	return fmt.Sprintf("set -o pipefail && git checkout %s && rm -rf .git && mvn clean test -B | tee %s.log",
		commit, commit)
}
