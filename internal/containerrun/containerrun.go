// Package containerrun wraps the Docker Engine API with the operation set
// the reproducer and result manager need to build, run, and publish
// reproduction images. Ground: internal/dispatch/docker.go's DockerDispatcher,
// generalized from its single-purpose agent-sandbox shape to the named
// create/start/wait/copy/commit/push/exec/remove operations spec.md §4.6
// requires.
package containerrun

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Runner wraps a Docker Engine client, grounded on the teacher's
// DockerDispatcher but exposing the small explicit operation set
// containerrun's callers (the reproducer, the result manager) need rather
// than a single opinionated Dispatch call.
type Runner struct {
	cli *client.Client
}

// New connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...), matching the teacher's
// client.FromEnv + API version negotiation.
func New() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("initializing docker client: %w", err)
	}
	return &Runner{cli: cli}, nil
}

// ImageExists reports whether image is already present locally.
func (r *Runner) ImageExists(ctx context.Context, image string) (bool, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspecting image %s: %w", image, err)
}

// Pull pulls image from its registry, blocking until the pull completes.
func (r *Runner) Pull(ctx context.Context, image string) error {
	reader, err := r.cli.ImagePull(ctx, image, imagetypes.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull progress for %s: %w", image, err)
	}
	return nil
}

// EnsureImage pulls image only if it is not already present locally,
// matching reproducer.BreakingUpdateReproducer.ensureBaseMavenImageExists.
func (r *Runner) EnsureImage(ctx context.Context, image string) error {
	exists, err := r.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return r.Pull(ctx, image)
}

// CreateOptions describes a container to create.
type CreateOptions struct {
	Image      string
	Cmd        []string
	WorkingDir string
}

// Create creates (but does not start) a container and returns its ID.
func (r *Runner) Create(ctx context.Context, opts CreateOptions) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Cmd,
		WorkingDir: opts.WorkingDir,
		Tty:        false,
	}, &container.HostConfig{}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container from %s: %w", opts.Image, err)
	}
	return resp.ID, nil
}

// Start starts a previously created container.
func (r *Runner) Start(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", containerID, err)
	}
	return nil
}

// Wait blocks until containerID exits and returns its exit code.
func (r *Runner) Wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("waiting for container %s: %s", containerID, status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("waiting for container %s: %w", containerID, err)
	}
}

// Exec runs cmd inside a running container and returns its combined
// stdout+stderr. Ground: reproducer.ResultManager.storeImageMetadata's
// execCreateCmd/execStartCmd pair.
func (r *Runner) Exec(ctx context.Context, containerID string, cmd []string) (string, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("creating exec in container %s: %w", containerID, err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("attaching to exec in container %s: %w", containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("reading exec output from container %s: %w", containerID, err)
	}
	return stdout.String() + stderr.String(), nil
}

// CopyFromContainer copies the file at path out of containerID, returning
// its raw (tar-archived) contents as the Docker API presents them.
func (r *Runner) CopyFromContainer(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	reader, _, err := r.cli.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("copying %s from container %s: %w", path, containerID, err)
	}
	return reader, nil
}

// CopyFileFromContainer copies a single file out of containerID and
// returns its decoded content, unwrapping the tar archive the Docker API
// wraps single-file copies in.
func (r *Runner) CopyFileFromContainer(ctx context.Context, containerID, path string) ([]byte, error) {
	archive, err := r.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	tr := tar.NewReader(archive)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("reading tar archive for %s from container %s: %w", path, containerID, err)
	}
	content, err := io.ReadAll(tr)
	if err != nil {
		return nil, fmt.Errorf("reading file content for %s from container %s: %w", path, containerID, err)
	}
	return content, nil
}

// Commit commits containerID's filesystem as a new image repository:tag,
// with the given OCI labels. cmd and workingDir, if non-empty, become the
// new image's default command and working directory; the Docker commit
// API replaces the container's original runtime config wholesale once a
// Config override is supplied, so any default callers want preserved must
// be passed explicitly rather than assumed to carry over.
func (r *Runner) Commit(ctx context.Context, containerID, repository, tag string, cmd []string, workingDir string, labels map[string]string) error {
	cfg := &container.Config{Labels: labels}
	if len(cmd) > 0 {
		cfg.Cmd = cmd
	}
	if workingDir != "" {
		cfg.WorkingDir = workingDir
	}
	_, err := r.cli.ContainerCommit(ctx, containerID, container.CommitOptions{
		Reference: repository + ":" + tag,
		Config:    cfg,
	})
	if err != nil {
		return fmt.Errorf("committing container %s to %s:%s: %w", containerID, repository, tag, err)
	}
	return nil
}

// RegistryCredentials authenticates an image push to a registry.
type RegistryCredentials struct {
	Username      string
	IdentityToken string
}

// Push pushes repository:tag to its registry using cred.
func (r *Runner) Push(ctx context.Context, repository, tag string, cred RegistryCredentials) error {
	authConfig := registry.AuthConfig{Username: cred.Username, Password: cred.IdentityToken}
	authJSON, err := registry.EncodeAuthConfig(authConfig)
	if err != nil {
		return fmt.Errorf("encoding registry auth for %s: %w", repository, err)
	}
	reader, err := r.cli.ImagePush(ctx, repository+":"+tag, imagetypes.PushOptions{RegistryAuth: authJSON})
	if err != nil {
		return fmt.Errorf("pushing %s:%s: %w", repository, tag, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading push progress for %s:%s: %w", repository, tag, err)
	}
	return nil
}

// Stop stops a running container, tolerating a container that already
// exited.
func (r *Runner) Stop(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stopping container %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes a container.
func (r *Runner) Remove(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing container %s: %w", containerID, err)
	}
	return nil
}

// RemoveImage removes a local image reference.
func (r *Runner) RemoveImage(ctx context.Context, image string) error {
	if _, err := r.cli.ImageRemove(ctx, image, imagetypes.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing image %s: %w", image, err)
	}
	return nil
}
