// Package resultmanager enforces the partition invariants a reproduction
// attempt's outcome must respect: which directory a record lives in, the
// image labels/push that accompany a successful reproduction, the jar/pom
// extraction from the local Maven repository, and the best-effort
// enrichment links. Ground: reproducer.ResultManager.
package resultmanager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chains-project/bump/internal/candidate"
	"github.com/chains-project/bump/internal/containerrun"
	"github.com/chains-project/bump/internal/jsonstore"
	"github.com/chains-project/bump/internal/reproducer"
)

// ContainerOps is the containerrun surface the result manager needs beyond
// what the reproducer itself uses: starting a container to exec commands
// in it, and pushing a committed image to its registry. *containerrun.Runner
// satisfies this directly.
type ContainerOps interface {
	Create(ctx context.Context, opts containerrun.CreateOptions) (string, error)
	Start(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, cmd []string) (string, error)
	CopyFileFromContainer(ctx context.Context, containerID, path string) ([]byte, error)
	Commit(ctx context.Context, containerID, repository, tag string, cmd []string, workingDir string, labels map[string]string) error
	Push(ctx context.Context, repository, tag string, cred containerrun.RegistryCredentials) error
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, image string) error
}

// TagChecker looks up whether a version tag exists on the project's forge
// repository, used to gate the GitHub compare-link enrichment.
type TagChecker interface {
	TagExists(ctx context.Context, owner, repo, tag string) (bool, error)
}

// CachePusher commits a single file to a branch of the cache repository.
// *forge.Client satisfies this directly.
type CachePusher interface {
	PushFile(ctx context.Context, owner, repo, branch, path string, content []byte, message string) error
}

// Dirs names every partition directory on disk (spec.md §6's on-disk layout).
type Dirs struct {
	Candidates         string
	Benchmark          string
	Unsuccessful        string
	Logs               string // parent of successfulReproductionLogs/ and unsuccessfulReproductionLogs/
	Jars               string
	ImageMetadataPath  string
}

// Options configures the registry push and cache-repo push targets.
type Options struct {
	RegistryRepository  string
	RegistryCredentials containerrun.RegistryCredentials
	CacheOwner          string
	CacheRepo           string
	CacheBranch         string
	MavenCentralBaseURL string
	HTTPTimeout         time.Duration
}

// ImageMetadata records the du -s measurements for one commit's pre/post
// reproduction images.
type ImageMetadata struct {
	PreImageM2FolderSize      string `json:"preImageM2FolderSize"`
	PostImageM2FolderSize     string `json:"postImageM2FolderSize"`
	PreImageProjectFolderSize  string `json:"preImageProjectFolderSize"`
	PostImageProjectFolderSize string `json:"postImageProjectFolderSize"`
}

// Manager owns the partition directories and the container/forge clients
// needed to realize a reproduction outcome as on-disk and registry state.
type Manager struct {
	dirs       Dirs
	containers ContainerOps
	tags       TagChecker
	cache      CachePusher
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a Manager. tags and cache may be nil: enrichment links and
// the cache-repo push are both best-effort extras (spec.md §4.9's
// "Optional: pushFile").
func New(dirs Dirs, containers ContainerOps, tags TagChecker, cache CachePusher, opts Options, logger *slog.Logger) *Manager {
	if opts.MavenCentralBaseURL == "" {
		opts.MavenCentralBaseURL = "https://repo1.maven.org/maven2"
	}
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 60 * time.Second
	}
	return &Manager{
		dirs:       dirs,
		containers: containers,
		tags:       tags,
		cache:      cache,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.HTTPTimeout},
		logger:     logger,
	}
}

// StoreLog writes a build log already extracted by the reproducer into the
// successful or unsuccessful log partition for commit. The reproducer's
// state machine copies the log out of its container and removes the
// container before returning, so by the time an outcome reaches the result
// manager there is no live container left to copy from again.
func (m *Manager) StoreLog(commit, log string, success bool) error {
	return writeFile(m.logPath(commit, success), []byte(log))
}

// RemoveLog deletes a previously stored log from the successful or
// unsuccessful log partition, treating an already-missing log as success.
func (m *Manager) RemoveLog(commit string, success bool) error {
	return jsonstore.Remove(m.logPath(commit, success))
}

func (m *Manager) logPath(commit string, success bool) string {
	sub := "unsuccessfulReproductionLogs"
	if success {
		sub = "successfulReproductionLogs"
	}
	return filepath.Join(m.dirs.Logs, sub, commit+".log")
}

// RemoveCandidateFile idempotently removes a candidate's pending-reproduction
// record once it has been moved into benchmark/ or unsuccessful/.
func (m *Manager) RemoveCandidateFile(commit string) error {
	return jsonstore.Remove(filepath.Join(m.dirs.Candidates, commit+".json"))
}

// SaveUnsuccessful persists a trimmed record (no enrichment, no reproduction
// commands) to unsuccessful/ and removes the candidate file.
func (m *Manager) SaveUnsuccessful(bu *candidate.BreakingUpdate) error {
	trimmed := *bu
	trimmed.GithubCompareLink = ""
	trimmed.MavenSourceLinkPre = ""
	trimmed.MavenSourceLinkBreaking = ""
	trimmed.PreCommitReproductionCommand = ""
	trimmed.BreakingUpdateReproductionCommand = ""
	trimmed.UpdatedFileType = nil

	path := filepath.Join(m.dirs.Unsuccessful, bu.BreakingCommit+".json")
	if err := jsonstore.WriteFile(path, &trimmed); err != nil {
		return fmt.Errorf("writing unsuccessful record for %s: %w", bu.BreakingCommit, err)
	}
	return m.RemoveCandidateFile(bu.BreakingCommit)
}

// StoreResult realizes a successful reproduction's outcome: final labeled
// images pushed to the registry, jar/pom extraction, image metadata, and
// best-effort enrichment links, then persists the record to benchmark/ and
// removes the candidate file. Ground: reproducer.ResultManager.storeResult.
func (m *Manager) StoreResult(ctx context.Context, bu *candidate.BreakingUpdate, outcome *reproducer.Outcome) error {
	category := outcome.FailureCategory
	bu.FailureCategory = &category
	bu.PreCommitReproductionCommand = fmt.Sprintf("docker run %s:%s-pre", m.opts.RegistryRepository, bu.BreakingCommit)
	bu.BreakingUpdateReproductionCommand = fmt.Sprintf("docker run %s:%s-breaking", m.opts.RegistryRepository, bu.BreakingCommit)

	labels := map[string]string{
		"github_repository":  bu.ProjectOrganisation + "/" + bu.Project,
		"pr_url":             bu.URL,
		"updated_dependency": bu.UpdatedDependency.DependencyGroupID + ":" + bu.UpdatedDependency.DependencyArtifactID,
		"new_version":        bu.UpdatedDependency.NewVersion,
		"previous_version":   bu.UpdatedDependency.PreviousVersion,
		"failure_category":   string(category),
	}

	preTag := bu.BreakingCommit + "-pre"
	postTag := bu.BreakingCommit + "-breaking"

	preFileType, err := m.finalizeImage(ctx, outcome.PreImageTag, preTag, bu.Project, bu.UpdatedDependency, bu.UpdatedDependency.PreviousVersion, labels)
	if err != nil {
		return fmt.Errorf("finalizing pre image for %s: %w", bu.BreakingCommit, err)
	}
	postFileType, err := m.finalizeImage(ctx, outcome.PostImageTag, postTag, bu.Project, bu.UpdatedDependency, bu.UpdatedDependency.NewVersion, labels)
	if err != nil {
		return fmt.Errorf("finalizing post image for %s: %w", bu.BreakingCommit, err)
	}
	bu.UpdatedFileType = combineFileTypes(preFileType, postFileType)

	if err := m.recordImageMetadata(ctx, bu.BreakingCommit, bu.Project, preTag, postTag); err != nil {
		m.logger.Warn("failed to record image metadata", "commit", bu.BreakingCommit, "error", err)
	}

	m.resolveEnrichment(ctx, bu)

	path := filepath.Join(m.dirs.Benchmark, bu.BreakingCommit+".json")
	if err := jsonstore.WriteFile(path, bu); err != nil {
		return fmt.Errorf("writing benchmark record for %s: %w", bu.BreakingCommit, err)
	}
	return m.RemoveCandidateFile(bu.BreakingCommit)
}

// finalizeImage converts sourceImage (a reproducer snapshot) into a
// runnable image tagged finalTag: the default command becomes
// "mvn clean test -B" at workdir=/<project>, labels are attached, the
// dependency's jar/pom at version is extracted from the local Maven repository before the
// container's filesystem is sealed into the final image, and the final
// image is pushed to the registry.
func (m *Manager) finalizeImage(ctx context.Context, sourceImage, finalTag, project string, dep candidate.UpdatedDependency, version string, labels map[string]string) (*candidate.UpdatedFileType, error) {
	id, err := m.containers.Create(ctx, containerrun.CreateOptions{
		Image:      sourceImage,
		Cmd:        []string{"mvn", "clean", "test", "-B"},
		WorkingDir: "/" + project,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := m.containers.Remove(ctx, id); err != nil {
			m.logger.Warn("failed to remove finalize container", "container", id, "error", err)
		}
	}()

	fileType := m.extractDependencyArtifact(ctx, id, dep, version)

	if err := m.containers.Commit(ctx, id, m.opts.RegistryRepository, finalTag, []string{"mvn", "clean", "test", "-B"}, "/"+project, labels); err != nil {
		return nil, fmt.Errorf("committing %s: %w", finalTag, err)
	}
	if err := m.containers.Push(ctx, m.opts.RegistryRepository, finalTag, m.opts.RegistryCredentials); err != nil {
		return nil, fmt.Errorf("pushing %s: %w", finalTag, err)
	}
	if err := m.containers.RemoveImage(ctx, sourceImage); err != nil {
		m.logger.Warn("failed to remove intermediate image", "image", sourceImage, "error", err)
	}
	return fileType, nil
}

// extractDependencyArtifact copies the updated dependency's jar (preferred)
// or pom out of containerID's local Maven repository into jars/, returning
// which kind was found, if any.
func (m *Manager) extractDependencyArtifact(ctx context.Context, containerID string, dep candidate.UpdatedDependency, version string) *candidate.UpdatedFileType {
	groupPath := strings.ReplaceAll(dep.DependencyGroupID, ".", "/")
	base := fmt.Sprintf("/root/.m2/repository/%s/%s/%s/%s-%s", groupPath, dep.DependencyArtifactID, version, dep.DependencyArtifactID, version)

	if content, err := m.containers.CopyFileFromContainer(ctx, containerID, base+".jar"); err == nil {
		if err := m.writeArtifact(groupPath, dep.DependencyArtifactID, version, "jar", content); err == nil {
			t := candidate.UpdatedFileJar
			return &t
		}
	}
	if content, err := m.containers.CopyFileFromContainer(ctx, containerID, base+".pom"); err == nil {
		if err := m.writeArtifact(groupPath, dep.DependencyArtifactID, version, "pom", content); err == nil {
			t := candidate.UpdatedFilePOM
			return &t
		}
	}
	return nil
}

func (m *Manager) writeArtifact(groupPath, artifactID, version, ext string, content []byte) error {
	dest := filepath.Join(m.dirs.Jars, groupPath, version, fmt.Sprintf("%s-%s.%s", artifactID, version, ext))
	return writeFile(dest, content)
}

func combineFileTypes(pre, post *candidate.UpdatedFileType) *candidate.UpdatedFileType {
	if (pre != nil && *pre == candidate.UpdatedFileJar) || (post != nil && *post == candidate.UpdatedFileJar) {
		t := candidate.UpdatedFileJar
		return &t
	}
	if (pre != nil && *pre == candidate.UpdatedFilePOM) || (post != nil && *post == candidate.UpdatedFilePOM) {
		t := candidate.UpdatedFilePOM
		return &t
	}
	return nil
}

// recordImageMetadata measures /root/.m2 and /<project> folder sizes inside
// the final pre/post images via `du -s` and merges the result into
// image_metadata.json, keyed by commit. Ground: ResultManager.storeImageMetadata.
func (m *Manager) recordImageMetadata(ctx context.Context, commit, project, preTag, postTag string) error {
	preM2, preProj, err := m.measureImage(ctx, m.opts.RegistryRepository+":"+preTag, project)
	if err != nil {
		return err
	}
	postM2, postProj, err := m.measureImage(ctx, m.opts.RegistryRepository+":"+postTag, project)
	if err != nil {
		return err
	}

	existing, _, err := jsonstore.ReadFileIfExists[map[string]ImageMetadata](m.dirs.ImageMetadataPath)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = map[string]ImageMetadata{}
	}
	existing[commit] = ImageMetadata{
		PreImageM2FolderSize:       preM2,
		PostImageM2FolderSize:      postM2,
		PreImageProjectFolderSize:  preProj,
		PostImageProjectFolderSize: postProj,
	}
	return jsonstore.WriteFile(m.dirs.ImageMetadataPath, existing)
}

func (m *Manager) measureImage(ctx context.Context, image, project string) (m2Size, projectSize string, err error) {
	id, err := m.containers.Create(ctx, containerrun.CreateOptions{Image: image, Cmd: []string{"sleep", "infinity"}})
	if err != nil {
		return "", "", err
	}
	defer func() {
		if stopErr := m.containers.Stop(ctx, id); stopErr != nil {
			m.logger.Warn("failed to stop metadata container", "container", id, "error", stopErr)
		}
		if rmErr := m.containers.Remove(ctx, id); rmErr != nil {
			m.logger.Warn("failed to remove metadata container", "container", id, "error", rmErr)
		}
	}()
	if err := m.containers.Start(ctx, id); err != nil {
		return "", "", err
	}

	m2Out, err := m.containers.Exec(ctx, id, []string{"du", "-s", "/root/.m2"})
	if err != nil {
		return "", "", err
	}
	projOut, err := m.containers.Exec(ctx, id, []string{"du", "-s", "/" + project})
	if err != nil {
		return "", "", err
	}
	return firstField(m2Out), firstField(projOut), nil
}

func firstField(duOutput string) string {
	fields := strings.Fields(duOutput)
	if len(fields) == 0 {
		return ""
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return ""
	}
	return fields[0]
}

// resolveEnrichment fills in the GitHub compare link and Maven Central
// source-jar links, best-effort: any failure just leaves the field empty.
func (m *Manager) resolveEnrichment(ctx context.Context, bu *candidate.BreakingUpdate) {
	if m.tags != nil {
		preExists, err := m.tags.TagExists(ctx, bu.ProjectOrganisation, bu.Project, bu.UpdatedDependency.PreviousVersion)
		if err != nil {
			m.logger.Warn("failed to check previous-version tag", "commit", bu.BreakingCommit, "error", err)
		}
		postExists, err := m.tags.TagExists(ctx, bu.ProjectOrganisation, bu.Project, bu.UpdatedDependency.NewVersion)
		if err != nil {
			m.logger.Warn("failed to check new-version tag", "commit", bu.BreakingCommit, "error", err)
		}
		if preExists && postExists {
			bu.GithubCompareLink = fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s",
				bu.ProjectOrganisation, bu.Project, bu.UpdatedDependency.PreviousVersion, bu.UpdatedDependency.NewVersion)
		}
	}

	bu.MavenSourceLinkPre = m.mavenSourceLink(ctx, bu.UpdatedDependency, bu.UpdatedDependency.PreviousVersion)
	bu.MavenSourceLinkBreaking = m.mavenSourceLink(ctx, bu.UpdatedDependency, bu.UpdatedDependency.NewVersion)
}

// urlExistsFn is a package-level hook so tests can avoid a real network
// call; it reports whether a HEAD request to url gets a response whose
// status is anything other than 404 Not Found.
var urlExistsFn = func(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound
}

func (m *Manager) mavenSourceLink(ctx context.Context, dep candidate.UpdatedDependency, version string) string {
	groupPath := strings.ReplaceAll(dep.DependencyGroupID, ".", "/")
	url := fmt.Sprintf("%s/%s/%s/%s/%s-%s-sources.jar", m.opts.MavenCentralBaseURL, groupPath, dep.DependencyArtifactID, version, dep.DependencyArtifactID, version)

	if !urlExistsFn(ctx, m.httpClient, url) {
		return ""
	}
	return url
}

// PushFile appends a single file to the cache repository's branch at
// <commit>/<name>. Neither binary calls it.
func (m *Manager) PushFile(ctx context.Context, commit, name string, content []byte) error {
	if m.cache == nil {
		return nil
	}
	path := commit + "/" + name
	message := fmt.Sprintf("add %s for %s", name, commit)
	return m.cache.PushFile(ctx, m.opts.CacheOwner, m.opts.CacheRepo, m.opts.CacheBranch, path, content, message)
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
