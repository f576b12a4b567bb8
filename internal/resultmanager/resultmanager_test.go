package resultmanager

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/chains-project/bump/internal/candidate"
	"github.com/chains-project/bump/internal/containerrun"
	"github.com/chains-project/bump/internal/reproducer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeContainers struct {
	files      map[string][]byte // "containerID:path" -> content
	execOutput string
	created    []string
	committed  []string
	pushed     []string
}

func (f *fakeContainers) Create(ctx context.Context, opts containerrun.CreateOptions) (string, error) {
	id := "container-" + opts.Image
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeContainers) Start(ctx context.Context, containerID string) error { return nil }

func (f *fakeContainers) Exec(ctx context.Context, containerID string, cmd []string) (string, error) {
	return f.execOutput, nil
}

func (f *fakeContainers) CopyFileFromContainer(ctx context.Context, containerID, path string) ([]byte, error) {
	content, ok := f.files[containerID+":"+path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return content, nil
}

func (f *fakeContainers) Commit(ctx context.Context, containerID, repository, tag string, cmd []string, workingDir string, labels map[string]string) error {
	f.committed = append(f.committed, repository+":"+tag)
	return nil
}

func (f *fakeContainers) Push(ctx context.Context, repository, tag string, cred containerrun.RegistryCredentials) error {
	f.pushed = append(f.pushed, repository+":"+tag)
	return nil
}

func (f *fakeContainers) Stop(ctx context.Context, containerID string) error  { return nil }
func (f *fakeContainers) Remove(ctx context.Context, containerID string) error { return nil }
func (f *fakeContainers) RemoveImage(ctx context.Context, image string) error  { return nil }

type fakeTagChecker struct {
	exists map[string]bool
}

func (f *fakeTagChecker) TagExists(ctx context.Context, owner, repo, tag string) (bool, error) {
	return f.exists[tag], nil
}

func testBreakingUpdate() *candidate.BreakingUpdate {
	return &candidate.BreakingUpdate{
		URL:                 "https://github.com/acme/widget/pull/7",
		Project:             "widget",
		ProjectOrganisation: "acme",
		BreakingCommit:      "deadbeef",
		UpdatedDependency: candidate.UpdatedDependency{
			DependencyGroupID:    "org.example",
			DependencyArtifactID: "thing",
			PreviousVersion:      "1.0.0",
			NewVersion:           "2.0.0",
		},
	}
}

func testDirs(t *testing.T) Dirs {
	root := t.TempDir()
	return Dirs{
		Candidates:        filepath.Join(root, "candidates"),
		Benchmark:         filepath.Join(root, "benchmark"),
		Unsuccessful:      filepath.Join(root, "unsuccessful"),
		Logs:              filepath.Join(root, "logs"),
		Jars:              filepath.Join(root, "jars"),
		ImageMetadataPath: filepath.Join(root, "image_metadata.json"),
	}
}

func TestSaveUnsuccessfulWritesTrimmedRecordAndRemovesCandidate(t *testing.T) {
	dirs := testDirs(t)
	bu := testBreakingUpdate()
	bu.GithubCompareLink = "https://github.com/acme/widget/compare/1.0.0...2.0.0"

	if err := os.MkdirAll(dirs.Candidates, 0o755); err != nil {
		t.Fatal(err)
	}
	candidatePath := filepath.Join(dirs.Candidates, bu.BreakingCommit+".json")
	if err := os.WriteFile(candidatePath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(dirs, &fakeContainers{}, nil, nil, Options{RegistryRepository: "ghcr.io/acme/breaking-updates"}, discardLogger())
	if err := m.SaveUnsuccessful(bu); err != nil {
		t.Fatalf("SaveUnsuccessful: %v", err)
	}

	if _, err := os.Stat(candidatePath); !os.IsNotExist(err) {
		t.Fatal("expected candidate file to be removed")
	}

	data, err := os.ReadFile(filepath.Join(dirs.Unsuccessful, bu.BreakingCommit+".json"))
	if err != nil {
		t.Fatalf("reading unsuccessful record: %v", err)
	}
	var saved candidate.BreakingUpdate
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.GithubCompareLink != "" {
		t.Fatal("expected enrichment fields to be trimmed from unsuccessful record")
	}
}

func stubURLExists(t *testing.T, exists bool) {
	t.Helper()
	original := urlExistsFn
	urlExistsFn = func(ctx context.Context, client *http.Client, url string) bool { return exists }
	t.Cleanup(func() { urlExistsFn = original })
}

func TestStoreResultPushesFinalImagesAndWritesBenchmarkRecord(t *testing.T) {
	stubURLExists(t, true)
	dirs := testDirs(t)
	if err := os.MkdirAll(dirs.Candidates, 0o755); err != nil {
		t.Fatal(err)
	}
	bu := testBreakingUpdate()
	candidatePath := filepath.Join(dirs.Candidates, bu.BreakingCommit+".json")
	if err := os.WriteFile(candidatePath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	containers := &fakeContainers{execOutput: "12345\t/root/.m2\n"}
	tags := &fakeTagChecker{exists: map[string]bool{"1.0.0": true, "2.0.0": true}}

	m := New(dirs, containers, tags, nil, Options{
		RegistryRepository: "ghcr.io/acme/breaking-updates",
	}, discardLogger())

	outcome := &reproducer.Outcome{
		FailureCategory: candidate.CompilationFailure,
		PreImageTag:     bu.BreakingCommit + ":pre",
		PostImageTag:    bu.BreakingCommit + ":post",
	}

	if err := m.StoreResult(context.Background(), bu, outcome); err != nil {
		t.Fatalf("StoreResult: %v", err)
	}

	if len(containers.pushed) != 2 {
		t.Fatalf("expected 2 pushed images, got %v", containers.pushed)
	}
	if bu.GithubCompareLink == "" {
		t.Fatal("expected GithubCompareLink to be set when both tags exist")
	}
	if bu.FailureCategory == nil || *bu.FailureCategory != candidate.CompilationFailure {
		t.Fatalf("FailureCategory = %v", bu.FailureCategory)
	}

	if _, err := os.Stat(candidatePath); !os.IsNotExist(err) {
		t.Fatal("expected candidate file to be removed")
	}
	if _, err := os.Stat(filepath.Join(dirs.Benchmark, bu.BreakingCommit+".json")); err != nil {
		t.Fatalf("expected benchmark record: %v", err)
	}
	if _, err := os.Stat(dirs.ImageMetadataPath); err != nil {
		t.Fatalf("expected image metadata file: %v", err)
	}
}

func TestStoreResultSkipsCompareLinkWhenTagMissing(t *testing.T) {
	stubURLExists(t, false)
	dirs := testDirs(t)
	bu := testBreakingUpdate()
	containers := &fakeContainers{execOutput: "1\t/root/.m2\n"}
	tags := &fakeTagChecker{exists: map[string]bool{"1.0.0": true}}

	m := New(dirs, containers, tags, nil, Options{RegistryRepository: "ghcr.io/acme/breaking-updates"}, discardLogger())
	outcome := &reproducer.Outcome{
		FailureCategory: candidate.TestFailure,
		PreImageTag:     bu.BreakingCommit + ":pre",
		PostImageTag:    bu.BreakingCommit + ":post",
	}

	if err := m.StoreResult(context.Background(), bu, outcome); err != nil {
		t.Fatalf("StoreResult: %v", err)
	}
	if bu.GithubCompareLink != "" {
		t.Fatal("expected GithubCompareLink to stay empty when the new version's tag does not exist")
	}
}

func TestRemoveLogIsIdempotent(t *testing.T) {
	dirs := testDirs(t)
	m := New(dirs, &fakeContainers{}, nil, nil, Options{}, discardLogger())
	if err := m.RemoveLog("nonexistent", true); err != nil {
		t.Fatalf("RemoveLog on missing file should not error: %v", err)
	}
}
