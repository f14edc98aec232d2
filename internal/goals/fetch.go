// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var stepPrefix = regexp.MustCompile(`^Step #[0-9]+:`)

// StepLines keeps the build step output lines of raw and strips their
// "Step #N:" prefix.
func StepLines(raw string) []string {
	return lo.FilterMap(strings.Split(raw, "\n"), func(line string, _ int) (string, bool) {
		line = strings.TrimRight(line, "\r")
		loc := stepPrefix.FindStringIndex(line)
		if loc == nil {
			return "", false
		}
		return line[loc[1]:], true
	})
}

// LogFetcher retrieves the raw log of a build.
type LogFetcher interface {
	FetchLog(ctx context.Context, buildID string) (string, error)
}

// NoopFetcher returns empty logs.
type NoopFetcher struct{}

func (NoopFetcher) FetchLog(context.Context, string) (string, error) { return "", nil }

// GCloudFetcher runs `gcloud builds log` on the host.
type GCloudFetcher struct {
	Path    string
	Timeout time.Duration
}

func (f *GCloudFetcher) FetchLog(ctx context.Context, buildID string) (string, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	path := f.Path
	if path == "" {
		path = "gcloud"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "builds", "log", buildID)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gcloud builds log %s: %w: %s", buildID, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ContainerRunner runs a command to completion in a fresh container.
type ContainerRunner interface {
	Run(ctx context.Context, spec ContainerSpec) (stdout, stderr string, exitCode int64, err error)
}

// ContainerSpec describes a one-shot container.
type ContainerSpec struct {
	Image string
	Cmd   []string
	Binds []string
}

// ContainerFetcher runs `gcloud builds log` inside a cloud SDK image, for
// hosts without gcloud installed.
type ContainerFetcher struct {
	Runner         ContainerRunner
	Image          string
	CredentialsDir string
	Timeout        time.Duration
}

func (f *ContainerFetcher) FetchLog(ctx context.Context, buildID string) (string, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	spec := ContainerSpec{
		Image: f.Image,
		Cmd:   []string{"gcloud", "builds", "log", buildID},
	}
	if f.CredentialsDir != "" {
		spec.Binds = []string{f.CredentialsDir + ":/root/.config/gcloud:ro"}
	}

	stdout, stderr, code, err := f.Runner.Run(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("failed to run log container: %w", err)
	}
	if code != 0 {
		return "", fmt.Errorf("gcloud builds log %s exited with %d: %s", buildID, code, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// DockerRunner implements ContainerRunner with the Docker Engine API.
type DockerRunner struct {
	docker *client.Client
}

// NewDockerRunner connects to dockerHost, or to the environment's daemon
// when dockerHost is empty.
func NewDockerRunner(dockerHost string) (*DockerRunner, error) {
	var opts []client.Opt
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	} else {
		opts = append(opts, client.FromEnv)
	}
	opts = append(opts, client.WithAPIVersionNegotiation())

	docker, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{docker: docker}, nil
}

func (r *DockerRunner) Run(ctx context.Context, spec ContainerSpec) (string, string, int64, error) {
	name := "goalbridge-logs-" + uuid.NewString()[:8]

	resp, err := r.docker.ContainerCreate(ctx,
		&container.Config{
			Image:  spec.Image,
			Cmd:    spec.Cmd,
			Labels: map[string]string{"goalbridge.component": "build-logs"},
		},
		&container.HostConfig{Binds: spec.Binds},
		nil, nil, name)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create container: %w", err)
	}

	defer func() {
		// Removal must outlive a cancelled request context.
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.docker.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", 0, fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int64
	waitCh, errCh := r.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", "", 0, fmt.Errorf("failed waiting for container: %w", err)
		}
	case status := <-waitCh:
		exitCode = status.StatusCode
	}

	logs, err := r.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return "", "", exitCode, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.docker.Close()
}
